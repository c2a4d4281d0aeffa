// Standard interfaces and datatypes for cloudfetch.
// Terms:
//
//	"strategy" : One way of obtaining a credential (profile file, instance identity, ...)
//	"provider" : A cloud backend that knows its strategies and how to build
//	             service clients from a resolved credential
package cloudfetch

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Logger is the logging surface every cloudfetch component accepts.
type Logger interface {
	logrus.FieldLogger
}

// SourceKind records where a Credential came from.
type SourceKind string

const (
	SourceConfigFile        SourceKind = "config-file"
	SourceInstancePrincipal SourceKind = "instance-principal"
	SourceAnonymous         SourceKind = "anonymous"
)

// Credential is opaque identity material. It is built once per run and
// shared by every service client of that run; nothing mutates it after
// resolution.
type Credential struct {
	Source SourceKind
	Region string
	// Tenancy is the account as reported by the source, empty when the
	// source does not name one. Identity.Account is authoritative once
	// the credential is verified.
	Tenancy string
	Profile string

	// Signer is provider specific (e.g. *credentials.Credentials from the
	// AWS SDK). Only the provider that produced it knows how to use it.
	Signer interface{}
}

// Strategy attempts one authentication mechanism.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context) (*Credential, error)
}

// Identity is what the verification call reported about the caller.
type Identity struct {
	Provider  string     `json:"provider"`
	Principal string     `json:"principal"`
	Account   string     `json:"account,omitempty"`
	Region    string     `json:"region,omitempty"`
	Source    SourceKind `json:"source"`
}

// IdentityClient is bound to the identity/verification service of a provider.
type IdentityClient interface {
	// Verify performs one cheap, read-only, idempotent call that only
	// succeeds if the remote service accepts the credential.
	Verify(ctx context.Context) (*Identity, error)
}

// StorageClient is bound to the data service of a provider.
type StorageClient interface {
	// Fetch performs exactly one remote read.
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error)
}

// A Provider aggregates the strategies and service clients of one backend.
type Provider interface {
	Name() string

	// Strategies in priority order.
	Strategies() []Strategy

	IdentityClient(cred *Credential) (IdentityClient, error)
	StorageClient(cred *Credential) (StorageClient, error)
}

// FetchResult is the raw payload of a fetch.
type FetchResult struct {
	Body        []byte
	ContentType string
	// Source describes where the bytes came from, for logging.
	Source string
}
