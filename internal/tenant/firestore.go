package tenant

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DomainDoc is a tenant domain document. The document ID is the hostname.
type DomainDoc struct {
	Slug     string `firestore:"slug"`
	Disabled bool   `firestore:"disabled,omitempty"`
}

// FirestoreResolver reads domain registrations from a Firestore collection.
type FirestoreResolver struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreResolver connects to Firestore.
func NewFirestoreResolver(ctx context.Context, projectID, database, collection string, opts ...option.ClientOption) (*FirestoreResolver, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database, opts...)
	} else {
		client, err = firestore.NewClient(ctx, projectID, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreResolver{client: client, collection: collection}, nil
}

// Resolve implements Resolver.
func (f *FirestoreResolver) Resolve(ctx context.Context, host string) (Tenant, error) {
	host = NormalizeHost(host)
	if host == "" {
		return Tenant{}, ErrNotRegistered
	}

	doc, err := f.client.Collection(f.collection).Doc(host).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Tenant{}, ErrNotRegistered
		}
		return Tenant{}, fmt.Errorf("failed to get domain from Firestore: %w", err)
	}

	var d DomainDoc
	if err := doc.DataTo(&d); err != nil {
		return Tenant{}, fmt.Errorf("failed to unmarshal domain: %w", err)
	}
	if d.Disabled || d.Slug == "" {
		return Tenant{}, ErrNotRegistered
	}
	return Tenant{Slug: d.Slug, Domain: host}, nil
}

// Close releases the Firestore client.
func (f *FirestoreResolver) Close() error {
	return f.client.Close()
}
