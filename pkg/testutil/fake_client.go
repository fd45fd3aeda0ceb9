package testutil

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/strandlab/strand-operator/api/v1alpha1"
)

// Scheme returns a runtime.Scheme with the operator API types and the
// built-in types the controllers manage registered.
func Scheme(t *testing.T) *runtime.Scheme {
	t.Helper()

	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		t.Fatalf("registering client-go scheme: %v", err)
	}
	if err := v1alpha1.AddToScheme(scheme); err != nil {
		t.Fatalf("registering strand.dev scheme: %v", err)
	}
	return scheme
}

// NewClient builds a fake client seeded with objs. Status subresources
// are enabled for Network and Simulation so controllers can patch
// status the way they do against a real API server.
func NewClient(t *testing.T, objs ...client.Object) client.Client {
	t.Helper()

	return fake.NewClientBuilder().
		WithScheme(Scheme(t)).
		WithObjects(objs...).
		WithStatusSubresource(&v1alpha1.Network{}, &v1alpha1.Simulation{}).
		Build()
}

// FailureConfig configures when a wrapped client should return errors.
// Each hook receives the object or key and returns non-nil to fail the
// operation before it reaches the underlying client.
type FailureConfig struct {
	// OnGet is called before Get operations.
	OnGet func(key client.ObjectKey) error

	// OnList is called before List operations.
	OnList func(list client.ObjectList) error

	// OnCreate is called before Create operations.
	OnCreate func(obj client.Object) error

	// OnUpdate is called before Update operations.
	OnUpdate func(obj client.Object) error

	// OnPatch is called before Patch operations.
	OnPatch func(obj client.Object) error

	// OnDelete is called before Delete operations.
	OnDelete func(obj client.Object) error

	// OnStatusUpdate is called before Status().Update() operations.
	OnStatusUpdate func(obj client.Object) error

	// OnStatusPatch is called before Status().Patch() operations.
	OnStatusPatch func(obj client.Object) error
}

type clientWithFailures struct {
	client.Client
	config *FailureConfig
}

// NewFakeClientWithFailures wraps baseClient so that configured
// operations fail. Useful for driving controllers down error paths
// that a healthy fake client never exercises.
func NewFakeClientWithFailures(baseClient client.Client, config *FailureConfig) client.Client {
	if config == nil {
		config = &FailureConfig{}
	}
	return &clientWithFailures{
		Client: baseClient,
		config: config,
	}
}

func (c *clientWithFailures) Get(
	ctx context.Context,
	key client.ObjectKey,
	obj client.Object,
	opts ...client.GetOption,
) error {
	if c.config.OnGet != nil {
		if err := c.config.OnGet(key); err != nil {
			return err
		}
	}
	return c.Client.Get(ctx, key, obj, opts...)
}

func (c *clientWithFailures) List(
	ctx context.Context,
	list client.ObjectList,
	opts ...client.ListOption,
) error {
	if c.config.OnList != nil {
		if err := c.config.OnList(list); err != nil {
			return err
		}
	}
	return c.Client.List(ctx, list, opts...)
}

func (c *clientWithFailures) Create(
	ctx context.Context,
	obj client.Object,
	opts ...client.CreateOption,
) error {
	if c.config.OnCreate != nil {
		if err := c.config.OnCreate(obj); err != nil {
			return err
		}
	}
	return c.Client.Create(ctx, obj, opts...)
}

func (c *clientWithFailures) Update(
	ctx context.Context,
	obj client.Object,
	opts ...client.UpdateOption,
) error {
	if c.config.OnUpdate != nil {
		if err := c.config.OnUpdate(obj); err != nil {
			return err
		}
	}
	return c.Client.Update(ctx, obj, opts...)
}

func (c *clientWithFailures) Patch(
	ctx context.Context,
	obj client.Object,
	patch client.Patch,
	opts ...client.PatchOption,
) error {
	if c.config.OnPatch != nil {
		if err := c.config.OnPatch(obj); err != nil {
			return err
		}
	}
	return c.Client.Patch(ctx, obj, patch, opts...)
}

func (c *clientWithFailures) Delete(
	ctx context.Context,
	obj client.Object,
	opts ...client.DeleteOption,
) error {
	if c.config.OnDelete != nil {
		if err := c.config.OnDelete(obj); err != nil {
			return err
		}
	}
	return c.Client.Delete(ctx, obj, opts...)
}

func (c *clientWithFailures) Status() client.StatusWriter {
	return &statusWriterWithFailures{
		StatusWriter: c.Client.Status(),
		config:       c.config,
	}
}

type statusWriterWithFailures struct {
	client.StatusWriter
	config *FailureConfig
}

func (s *statusWriterWithFailures) Update(
	ctx context.Context,
	obj client.Object,
	opts ...client.SubResourceUpdateOption,
) error {
	if s.config.OnStatusUpdate != nil {
		if err := s.config.OnStatusUpdate(obj); err != nil {
			return err
		}
	}
	return s.StatusWriter.Update(ctx, obj, opts...)
}

func (s *statusWriterWithFailures) Patch(
	ctx context.Context,
	obj client.Object,
	patch client.Patch,
	opts ...client.SubResourcePatchOption,
) error {
	if s.config.OnStatusPatch != nil {
		if err := s.config.OnStatusPatch(obj); err != nil {
			return err
		}
	}
	return s.StatusWriter.Patch(ctx, obj, patch, opts...)
}

// Helper functions for common failure scenarios

// FailOnObjectName returns an error if the object name matches.
func FailOnObjectName(name string, err error) func(client.Object) error {
	return func(obj client.Object) error {
		accessor, metaErr := meta.Accessor(obj)
		if metaErr != nil {
			panic(fmt.Sprintf("meta.Accessor failed: %v", metaErr))
		}
		if accessor.GetName() == name {
			return err
		}
		return nil
	}
}

// FailOnKeyName returns an error if the key name matches.
func FailOnKeyName(name string, err error) func(client.ObjectKey) error {
	return func(key client.ObjectKey) error {
		if key.Name == name {
			return err
		}
		return nil
	}
}

// FailOnNamespacedKeyName returns an error if both the key name and namespace match.
func FailOnNamespacedKeyName(name, namespace string, err error) func(client.ObjectKey) error {
	return func(key client.ObjectKey) error {
		if key.Name == name && key.Namespace == namespace {
			return err
		}
		return nil
	}
}

// AlwaysFail returns the given error for all operations.
func AlwaysFail(err error) func(any) error {
	return func(any) error {
		return err
	}
}

// FailKeyAfterNCalls returns an ObjectKey failure function that fails
// after N successful calls. Use for OnGet.
func FailKeyAfterNCalls(n int, err error) func(client.ObjectKey) error {
	count := 0
	return func(client.ObjectKey) error {
		count++
		if count > n {
			return err
		}
		return nil
	}
}

// FailObjAfterNCalls returns an Object failure function that fails
// after N successful calls. Use for the object-typed hooks.
func FailObjAfterNCalls(n int, err error) func(client.Object) error {
	count := 0
	return func(client.Object) error {
		count++
		if count > n {
			return err
		}
		return nil
	}
}

// Common errors for testing
var (
	ErrInjected    = errors.New("injected test error")
	ErrAPITimeout  = errors.New("api timeout")
	ErrUnavailable = errors.New("api unavailable")
)
