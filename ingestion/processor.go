// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingestion

import (
	"context"

	"github.com/poiesic/docingest/core"
)

// Extractor turns a document into text. *extract.Extractor satisfies it.
// Implementations must be safe for concurrent use.
type Extractor interface {
	Extract(ctx context.Context, doc *core.Document) (*core.ExtractionResult, error)
}

// Observer receives every state change of every document in a batch.
// OnTransition is called from worker goroutines and must be safe for
// concurrent use. It should return quickly; it runs inline with the
// document's pipeline.
type Observer interface {
	OnTransition(t core.Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(t core.Transition)

func (f ObserverFunc) OnTransition(t core.Transition) {
	f(t)
}

type observers []Observer

func (o observers) OnTransition(t core.Transition) {
	for _, obs := range o {
		obs.OnTransition(t)
	}
}
