package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/platform/config"
)

const addressClaim = "address"

// FirebaseClient wraps the Admin SDK auth client for token verification and profile lookups.
type FirebaseClient struct {
	client  *firebaseauth.Client
	timeout time.Duration
}

// FirebaseOption customises FirebaseClient instances.
type FirebaseOption func(*FirebaseClient)

// WithFirebaseTimeout overrides the timeout used for Admin SDK calls.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *FirebaseClient) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewFirebaseClient initialises the Admin SDK for the configured project.
func NewFirebaseClient(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseClient, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}

	c := &FirebaseClient{client: authClient, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// VerifyIDToken implements TokenVerifier.
func (c *FirebaseClient) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if c == nil || c.client == nil {
		return nil, ErrVerifierUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.VerifyIDToken(ctx, idToken)
}

// LookupBuyer resolves the buyer's contact details from the Firebase user record.
// The delivery address lives in the "address" custom claim.
func (c *FirebaseClient) LookupBuyer(ctx context.Context, uid string) (domain.BuyerContact, error) {
	if c == nil || c.client == nil {
		return domain.BuyerContact{}, ErrVerifierUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	record, err := c.client.GetUser(ctx, uid)
	if err != nil {
		return domain.BuyerContact{}, fmt.Errorf("lookup buyer %s: %w", uid, err)
	}
	return contactFromRecord(record), nil
}

func contactFromRecord(record *firebaseauth.UserRecord) domain.BuyerContact {
	if record == nil || record.UserInfo == nil {
		return domain.BuyerContact{}
	}
	contact := domain.BuyerContact{
		Name:  strings.TrimSpace(record.DisplayName),
		Phone: strings.TrimSpace(record.PhoneNumber),
	}
	if contact.Name == "" {
		contact.Name = strings.TrimSpace(record.Email)
	}
	contact.Address = claimAsString(record.CustomClaims, addressClaim)
	return contact
}
