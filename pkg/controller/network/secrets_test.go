package network

import (
	"encoding/hex"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"

	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
)

func secretTestNetwork() *v1alpha1.Network {
	return &v1alpha1.Network{
		ObjectMeta: metav1.ObjectMeta{Name: "testnet", Namespace: "strand"},
		Spec:       v1alpha1.NetworkSpec{Peers: 3},
	}
}

func TestBuildAdminSecret(t *testing.T) {
	scheme := newTestScheme(t)
	nw := secretTestNetwork()

	secret, err := BuildAdminSecret(nw, scheme)
	if err != nil {
		t.Fatalf("BuildAdminSecret() error = %v", err)
	}

	if secret.Name != "testnet-admin" {
		t.Errorf("name = %q, want %q", secret.Name, "testnet-admin")
	}
	if secret.Type != corev1.SecretTypeOpaque {
		t.Errorf("type = %q, want Opaque", secret.Type)
	}
	if len(secret.OwnerReferences) != 1 || secret.OwnerReferences[0].Kind != "Network" {
		t.Errorf("OwnerReferences = %+v, want one Network reference", secret.OwnerReferences)
	}

	key := secret.StringData[PrivateKeySecretKey]
	if _, err := hex.DecodeString(key); err != nil || len(key) != 64 {
		t.Errorf("key %q is not 32 bytes of hex: %v", key, err)
	}

	// Every build mints fresh material.
	second, err := BuildAdminSecret(nw, scheme)
	if err != nil {
		t.Fatalf("BuildAdminSecret() error = %v", err)
	}
	if second.StringData[PrivateKeySecretKey] == key {
		t.Error("two builds produced the same admin key")
	}
}

func TestBuildAnchorAuthSecret(t *testing.T) {
	scheme := newTestScheme(t)
	nw := secretTestNetwork()

	secret, err := BuildAnchorAuthSecret(nw, scheme)
	if err != nil {
		t.Fatalf("BuildAnchorAuthSecret() error = %v", err)
	}

	if secret.Name != "testnet-anchor-auth" {
		t.Errorf("name = %q, want %q", secret.Name, "testnet-anchor-auth")
	}
	if got := secret.StringData[AuthSecretUserKey]; got != AnchorDatabaseUser {
		t.Errorf("username = %q, want %q", got, AnchorDatabaseUser)
	}

	password := secret.StringData[AuthSecretPasswordKey]
	if _, err := hex.DecodeString(password); err != nil || len(password) != 32 {
		t.Errorf("password %q is not 16 bytes of hex: %v", password, err)
	}

	second, err := BuildAnchorAuthSecret(nw, scheme)
	if err != nil {
		t.Fatalf("BuildAnchorAuthSecret() error = %v", err)
	}
	if second.StringData[AuthSecretPasswordKey] == password {
		t.Error("two builds produced the same database password")
	}
}

func TestBuildAdminSecret_MissingScheme(t *testing.T) {
	if _, err := BuildAdminSecret(secretTestNetwork(), runtime.NewScheme()); err == nil {
		t.Fatal("expected error for unregistered scheme, got nil")
	}
}
