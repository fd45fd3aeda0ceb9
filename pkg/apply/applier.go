package apply

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"

	"github.com/strandlab/strand-operator/pkg/errdefs"
)

// FieldOwner is the server-side apply field manager for every resource
// the operator writes.
const FieldOwner = "strand-operator"

// Applier applies desired manifests with server-side apply and prunes
// labeled children that are no longer part of the desired set.
type Applier struct {
	client client.Client
	scheme *runtime.Scheme
}

// New returns an Applier writing through c.
func New(c client.Client, scheme *runtime.Scheme) *Applier {
	return &Applier{client: c, scheme: scheme}
}

// Apply server-side-applies obj under the operator's field manager.
// Ownership is never forced: a field held by another manager surfaces
// as an errdefs.Conflict, not an overwrite. Re-applying an unchanged
// manifest mutates nothing.
func (a *Applier) Apply(ctx context.Context, obj client.Object) error {
	gvk, err := apiutil.GVKForObject(obj, a.scheme)
	if err != nil {
		return fmt.Errorf("failed to resolve GVK for %q: %w", obj.GetName(), err)
	}
	obj.GetObjectKind().SetGroupVersionKind(gvk)

	if err := a.client.Patch(
		ctx,
		obj,
		client.Apply,
		client.FieldOwner(FieldOwner),
	); err != nil {
		if apierrors.IsConflict(err) {
			return errdefs.Conflict(err)
		}
		return fmt.Errorf("failed to apply %s %s/%s: %w",
			gvk.Kind, obj.GetNamespace(), obj.GetName(), err)
	}
	return nil
}

// ApplyAll applies objs in order, stopping at the first failure.
func (a *Applier) ApplyAll(ctx context.Context, objs ...client.Object) error {
	for _, obj := range objs {
		if err := a.Apply(ctx, obj); err != nil {
			return err
		}
	}
	return nil
}

// Prune deletes labeled children in namespace that fell out of the
// desired set. It lists StatefulSets, Deployments, Services and
// ConfigMaps matching selector and deletes any whose kind/name pair is
// not present in keep. Returns the number of objects deleted.
//
// Callers must pass the complete desired set: pruning against a
// partial set would delete children belonging to a stage that has not
// been applied yet.
func (a *Applier) Prune(
	ctx context.Context,
	namespace string,
	selector labels.Selector,
	keep []client.Object,
) (int, error) {
	keepSet := make(map[string]bool, len(keep))
	for _, obj := range keep {
		gvk, err := apiutil.GVKForObject(obj, a.scheme)
		if err != nil {
			return 0, fmt.Errorf("failed to resolve GVK for keep entry %q: %w", obj.GetName(), err)
		}
		keepSet[gvk.Kind+"/"+obj.GetName()] = true
	}

	listOpts := []client.ListOption{
		client.InNamespace(namespace),
		client.MatchingLabelsSelector{Selector: selector},
	}

	deleted := 0

	// Helper to delete every listed object not in the keep set.
	pruneObjects := func(kind string, objs []client.Object) error {
		for _, obj := range objs {
			if keepSet[kind+"/"+obj.GetName()] {
				continue
			}
			if err := a.client.Delete(ctx, obj); err != nil {
				if apierrors.IsNotFound(err) {
					continue
				}
				return fmt.Errorf("failed to prune %s %s/%s: %w",
					kind, obj.GetNamespace(), obj.GetName(), err)
			}
			deleted++
		}
		return nil
	}

	stss := &appsv1.StatefulSetList{}
	if err := a.client.List(ctx, stss, listOpts...); err != nil {
		return deleted, fmt.Errorf("failed to list StatefulSets: %w", err)
	}
	stsObjs := make([]client.Object, len(stss.Items))
	for i := range stss.Items {
		stsObjs[i] = &stss.Items[i]
	}
	if err := pruneObjects("StatefulSet", stsObjs); err != nil {
		return deleted, err
	}

	deps := &appsv1.DeploymentList{}
	if err := a.client.List(ctx, deps, listOpts...); err != nil {
		return deleted, fmt.Errorf("failed to list Deployments: %w", err)
	}
	depObjs := make([]client.Object, len(deps.Items))
	for i := range deps.Items {
		depObjs[i] = &deps.Items[i]
	}
	if err := pruneObjects("Deployment", depObjs); err != nil {
		return deleted, err
	}

	svcs := &corev1.ServiceList{}
	if err := a.client.List(ctx, svcs, listOpts...); err != nil {
		return deleted, fmt.Errorf("failed to list Services: %w", err)
	}
	svcObjs := make([]client.Object, len(svcs.Items))
	for i := range svcs.Items {
		svcObjs[i] = &svcs.Items[i]
	}
	if err := pruneObjects("Service", svcObjs); err != nil {
		return deleted, err
	}

	cms := &corev1.ConfigMapList{}
	if err := a.client.List(ctx, cms, listOpts...); err != nil {
		return deleted, fmt.Errorf("failed to list ConfigMaps: %w", err)
	}
	cmObjs := make([]client.Object, len(cms.Items))
	for i := range cms.Items {
		cmObjs[i] = &cms.Items[i]
	}
	if err := pruneObjects("ConfigMap", cmObjs); err != nil {
		return deleted, err
	}

	return deleted, nil
}
