package badger

import (
	"fmt"

	"github.com/poiesic/docingest/core"
)

// Key prefixes for different data types
const (
	docRecordPrefix = "docrec"
	docMetaPrefix   = "docmeta"
)

// makeRecordKey generates a key for a document record by ID.
func makeRecordKey(id core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%s", docRecordPrefix, id))
}

// recordScanPrefix matches every document record key.
func recordScanPrefix() []byte {
	return []byte(docRecordPrefix + ":")
}

// makeDimensionKey generates the key holding the locked embedding length.
func makeDimensionKey() []byte {
	return []byte(fmt.Sprintf("%s:%s", docMetaPrefix, "dim"))
}
