// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"testing"
)

func TestRegistryRegister(t *testing.T) {
	t.Run("duplicate name rejected", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(testConfig("alpha", true)); err != nil {
			t.Fatal(err)
		}
		if err := r.Register(testConfig("alpha", true)); err == nil {
			t.Error("expected duplicate registration to fail")
		}
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		r := NewRegistry()
		config := testConfig("alpha", true)
		config.DefaultModel = "not-in-catalog"
		if err := r.Register(config); err == nil {
			t.Error("expected validation failure")
		}
	})
}

func TestRegistryGet(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.Get("ghost")
		var notFound *ProviderNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("got %v, want ProviderNotFoundError", err)
		}
	})

	t.Run("disabled provider", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(testConfig("alpha", false)); err != nil {
			t.Fatal(err)
		}
		_, err := r.Get("alpha")
		var notFound *ProviderNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("got %v, want ProviderNotFoundError", err)
		}
	})

	t.Run("lazy instantiation happens once", func(t *testing.T) {
		created := 0
		factory := func(config ProviderConfig) (Provider, error) {
			created++
			return &mockProvider{name: config.Name}, nil
		}

		r := NewRegistry(WithFactories(map[ProviderType]Factory{ProviderTypeCustom: factory}))
		if err := r.Register(testConfig("alpha", true)); err != nil {
			t.Fatal(err)
		}
		if created != 0 {
			t.Fatal("provider instantiated before first use")
		}

		for i := 0; i < 3; i++ {
			if _, err := r.Get("alpha"); err != nil {
				t.Fatal(err)
			}
		}
		if created != 1 {
			t.Errorf("factory invoked %d times, want 1", created)
		}
	})
}

func TestRegistryOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if err := r.RegisterProvider(&mockProvider{name: name}, testConfig(name, true)); err != nil {
			t.Fatal(err)
		}
	}

	names := r.List()
	want := []string{"charlie", "alpha", "bravo"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got order %v, want %v", names, want)
		}
	}

	if r.RegistrationIndex("alpha") != 1 {
		t.Errorf("got index %d for alpha, want 1", r.RegistrationIndex("alpha"))
	}
	if r.RegistrationIndex("ghost") != 3 {
		t.Errorf("unknown providers should sort last")
	}
}

func TestRegistryHealthCheck(t *testing.T) {
	r := NewRegistry()

	healthy := &mockProvider{name: "healthy"}
	if err := r.RegisterProvider(healthy, testConfig("healthy", true)); err != nil {
		t.Fatal(err)
	}

	// A provider whose factory fails shows up unhealthy without
	// aborting the scan.
	failing := testConfig("failing", true)
	failing.Type = "broken"
	if err := r.Register(failing); err != nil {
		t.Fatal(err)
	}

	results := r.HealthCheck(context.Background())
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results["healthy"].Status != HealthStatusHealthy {
		t.Errorf("healthy provider reported %s", results["healthy"].Status)
	}
	if results["failing"].Status != HealthStatusUnhealthy {
		t.Errorf("failing provider reported %s", results["failing"].Status)
	}

	if got := r.HealthyProviders(); len(got) != 1 || got[0] != "healthy" {
		t.Errorf("got healthy providers %v", got)
	}
}
