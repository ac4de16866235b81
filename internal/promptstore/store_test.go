/*
Copyright 2026 Foundation 29

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package promptstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/foundation29org/lapin/internal/prompt"
)

func TestPromptStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Prompt Store Suite")
}

var (
	mredis *miniredis.Miniredis
	store  *Store
)

var _ = BeforeSuite(func() {
	var err error
	mredis, err = miniredis.Run()
	Expect(err).To(BeNil())

	store, err = New(context.Background(), Config{
		Addr:    mredis.Addr(),
		Timeout: time.Second,
	})
	Expect(err).To(BeNil())
	Expect(store).ToNot(BeNil())
})

var _ = AfterSuite(func() {
	if store != nil {
		Expect(store.Close()).To(BeNil())
	}
	if mredis != nil {
		mredis.Close()
	}
})

var _ = Describe("Store", func() {
	ctx := context.Background()

	BeforeEach(func() {
		mredis.FlushAll()
	})

	It("round-trips section text", func() {
		Expect(store.Put(ctx, "severity_intro", "You are a medical expert.")).To(Succeed())

		text, err := store.Get(ctx, "severity_intro")
		Expect(err).To(BeNil())
		Expect(text).To(Equal("You are a medical expert."))
	})

	It("namespaces keys under the lapin prefix", func() {
		Expect(store.Put(ctx, "s1", "x")).To(Succeed())
		Expect(mredis.Exists("lapin:prompt:s1")).To(BeTrue())
	})

	It("returns ErrNotFound for a missing section", func() {
		_, err := store.Get(ctx, "nope")
		Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
	})

	It("overwrites on Put", func() {
		Expect(store.Put(ctx, "s", "v1")).To(Succeed())
		Expect(store.Put(ctx, "s", "v2")).To(Succeed())

		text, err := store.Get(ctx, "s")
		Expect(err).To(BeNil())
		Expect(text).To(Equal("v2"))
	})

	It("lists stored keys without the prefix", func() {
		Expect(store.Put(ctx, "a", "1")).To(Succeed())
		Expect(store.Put(ctx, "b", "2")).To(Succeed())

		keys, err := store.Keys(ctx)
		Expect(err).To(BeNil())
		Expect(keys).To(ConsistOf("a", "b"))
	})

	It("feeds the prompt builder as a section source", func() {
		Expect(store.Put(ctx, "intro_v3", "Stored intro")).To(Succeed())

		b := prompt.NewBuilder().SetMetaTemplate("{intro}\n{case}")
		Expect(b.LoadSectionFromStore(ctx, "intro", store, "intro_v3")).To(Succeed())

		tmpl, err := b.Build()
		Expect(err).To(BeNil())

		out, err := tmpl.ToPrompt("case text")
		Expect(err).To(BeNil())
		Expect(out).To(Equal("Stored intro\ncase text"))
	})
})

var _ = Describe("New", func() {
	It("rejects an empty address", func() {
		_, err := New(context.Background(), Config{})
		Expect(err).ToNot(BeNil())
	})

	It("fails fast when redis is unreachable", func() {
		_, err := New(context.Background(), Config{
			Addr:    "127.0.0.1:1",
			Timeout: 100 * time.Millisecond,
		})
		Expect(err).ToNot(BeNil())
	})
})
