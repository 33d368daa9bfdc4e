// Package commerce talks to the external commerce platform's customer API
// (Shopify Storefront and Admin GraphQL).
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nutri-auth/internal/domain"
	apperrors "nutri-auth/pkg/errors"
	"nutri-auth/pkg/logger"
)

// Client is the commerce identity surface the reconciliation engine consumes.
// Any transport failure or timeout is commerce_unavailable, never a confirmation.
type Client interface {
	CustomerExists(ctx context.Context, email string) (bool, error)
	// Authenticate fails with invalid_credentials for a wrong email/password pair
	Authenticate(ctx context.Context, email, password string) (*domain.CommerceCustomer, error)
	// CreateCustomer fails with email_in_use when the email is taken
	CreateCustomer(ctx context.Context, email, password string, extra domain.CustomerExtra) (*domain.CommerceCustomer, error)
	// ValidateCustomer fails with not_found or email_mismatch
	ValidateCustomer(ctx context.Context, customerID, email string) (*domain.CommerceCustomer, error)
}

const (
	customerGIDPrefix = "gid://shopify/Customer/"
	defaultAPIVersion = "2023-07"
	DefaultTimeout    = 5 * time.Second

	// placeholderPassword is sent by the fallback existence check; it is never a real password
	placeholderPassword = "existence-check-not-a-password"
)

// ShopifyConfig configures the GraphQL client
type ShopifyConfig struct {
	Domain          string
	StorefrontToken string
	AdminToken      string
	APIVersion      string
	Timeout         time.Duration

	// StorefrontURL and AdminURL default to the endpoints derived from Domain
	StorefrontURL string
	AdminURL      string
}

// ShopifyClient implements Client
type ShopifyClient struct {
	config     ShopifyConfig
	httpClient *http.Client
	logger     *logger.Logger
}

// NewShopifyClient creates a new commerce client
func NewShopifyClient(cfg ShopifyConfig, logger *logger.Logger) *ShopifyClient {
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StorefrontURL == "" {
		cfg.StorefrontURL = fmt.Sprintf("https://%s/api/%s/graphql.json", cfg.Domain, cfg.APIVersion)
	}
	if cfg.AdminURL == "" && cfg.AdminToken != "" {
		cfg.AdminURL = fmt.Sprintf("https://%s/admin/api/%s/graphql.json", cfg.Domain, cfg.APIVersion)
	}
	return &ShopifyClient{
		config:     cfg,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

type userError struct {
	Code    string   `json:"code"`
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

type customerNode struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DisplayName string `json:"displayName"`
	Phone       string `json:"phone"`
}

func (n customerNode) toDomain() *domain.CommerceCustomer {
	return &domain.CommerceCustomer{
		ID:          CustomerIDFromGID(n.ID),
		Email:       domain.NormalizeEmail(n.Email),
		FirstName:   n.FirstName,
		LastName:    n.LastName,
		DisplayName: n.DisplayName,
		Phone:       n.Phone,
	}
}

type graphQLError struct {
	Message string `json:"message"`
}

// errGraphQL marks a response whose top-level errors array was non-empty
var errGraphQL = errors.New("graphql errors")

// CustomerIDFromGID strips the global-id prefix, accepting bare ids unchanged
func CustomerIDFromGID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), customerGIDPrefix)
}

// CustomerGID builds the global id of a customer
func CustomerGID(id string) string {
	return customerGIDPrefix + CustomerIDFromGID(id)
}

// CustomerExists checks existence with a customerRecover mutation, falling back
// to a token request with a throwaway password when the recover call fails.
func (c *ShopifyClient) CustomerExists(ctx context.Context, email string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	email = domain.NormalizeEmail(email)

	var recover struct {
		CustomerRecover *struct {
			CustomerUserErrors []userError `json:"customerUserErrors"`
		} `json:"customerRecover"`
	}
	err := c.storefront(ctx, customerRecoverMutation, map[string]interface{}{"email": email}, &recover)
	if err == nil && recover.CustomerRecover != nil {
		for _, ue := range recover.CustomerRecover.CustomerUserErrors {
			msg := strings.ToLower(ue.Message)
			if ue.Code == "CUSTOMER_DOES_NOT_EXIST" || strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found") {
				return false, nil
			}
		}
		return true, nil
	}
	if err != nil {
		c.logger.WithError(err).Info("Customer recover check failed, trying token check")
	}

	var token struct {
		CustomerAccessTokenCreate *struct {
			CustomerUserErrors []userError `json:"customerUserErrors"`
		} `json:"customerAccessTokenCreate"`
	}
	input := map[string]interface{}{"input": map[string]string{"email": email, "password": placeholderPassword}}
	if err := c.storefront(ctx, customerAccessTokenCreateMutation, input, &token); err != nil {
		return false, c.unavailable("customer_exists", err)
	}
	if token.CustomerAccessTokenCreate == nil {
		return false, c.unavailable("customer_exists", errors.New("empty customerAccessTokenCreate payload"))
	}
	for _, ue := range token.CustomerAccessTokenCreate.CustomerUserErrors {
		if ue.Code == "UNIDENTIFIED_CUSTOMER" {
			return false, nil
		}
	}
	return true, nil
}

// Authenticate issues a customer access token for the credentials and loads the customer
func (c *ShopifyClient) Authenticate(ctx context.Context, email, password string) (*domain.CommerceCustomer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var tokenResp struct {
		CustomerAccessTokenCreate *struct {
			CustomerAccessToken *struct {
				AccessToken string `json:"accessToken"`
				ExpiresAt   string `json:"expiresAt"`
			} `json:"customerAccessToken"`
			CustomerUserErrors []userError `json:"customerUserErrors"`
		} `json:"customerAccessTokenCreate"`
	}
	input := map[string]interface{}{"input": map[string]string{
		"email":    domain.NormalizeEmail(email),
		"password": password,
	}}
	if err := c.storefront(ctx, customerAccessTokenCreateMutation, input, &tokenResp); err != nil {
		return nil, c.unavailable("authenticate", err)
	}

	payload := tokenResp.CustomerAccessTokenCreate
	if payload == nil {
		return nil, c.unavailable("authenticate", errors.New("empty customerAccessTokenCreate payload"))
	}
	if len(payload.CustomerUserErrors) > 0 {
		ue := payload.CustomerUserErrors[0]
		c.logger.WithField("vendor_code", ue.Code).Info("Commerce authentication rejected")
		if ue.Code == "CUSTOMER_DISABLED" {
			return nil, apperrors.NewUserDisabledError(fmt.Errorf("shopify: %s", ue.Code))
		}
		return nil, apperrors.NewInvalidCredentialsError("", fmt.Errorf("shopify: %s", ue.Code))
	}
	if payload.CustomerAccessToken == nil || payload.CustomerAccessToken.AccessToken == "" {
		return nil, apperrors.NewInvalidCredentialsError("", errors.New("shopify: missing access token"))
	}

	var customerResp struct {
		Customer *customerNode `json:"customer"`
	}
	vars := map[string]interface{}{"customerAccessToken": payload.CustomerAccessToken.AccessToken}
	if err := c.storefront(ctx, customerByTokenQuery, vars, &customerResp); err != nil {
		return nil, c.unavailable("authenticate", err)
	}
	if customerResp.Customer == nil {
		return nil, c.unavailable("authenticate", errors.New("customer not returned for token"))
	}
	return customerResp.Customer.toDomain(), nil
}

// CreateCustomer registers a new customer with the given password
func (c *ShopifyClient) CreateCustomer(ctx context.Context, email, password string, extra domain.CustomerExtra) (*domain.CommerceCustomer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	in := map[string]interface{}{
		"email":            domain.NormalizeEmail(email),
		"password":         password,
		"acceptsMarketing": extra.AcceptsMarketing,
	}
	if extra.FirstName != "" {
		in["firstName"] = extra.FirstName
	}
	if extra.LastName != "" {
		in["lastName"] = extra.LastName
	}
	if extra.Phone != "" {
		in["phone"] = extra.Phone
	}

	var resp struct {
		CustomerCreate *struct {
			Customer           *customerNode `json:"customer"`
			CustomerUserErrors []userError   `json:"customerUserErrors"`
		} `json:"customerCreate"`
	}
	if err := c.storefront(ctx, customerCreateMutation, map[string]interface{}{"input": in}, &resp); err != nil {
		return nil, c.unavailable("create_customer", err)
	}

	payload := resp.CustomerCreate
	if payload == nil {
		return nil, c.unavailable("create_customer", errors.New("empty customerCreate payload"))
	}
	if len(payload.CustomerUserErrors) > 0 {
		return nil, c.createError(payload.CustomerUserErrors[0])
	}
	if payload.Customer == nil {
		return nil, c.unavailable("create_customer", errors.New("customer not returned"))
	}
	return payload.Customer.toDomain(), nil
}

func (c *ShopifyClient) createError(ue userError) *apperrors.AppError {
	c.logger.WithField("vendor_code", ue.Code).Info("Commerce customer creation rejected")
	internal := fmt.Errorf("shopify: %s %s", ue.Code, ue.Message)

	switch {
	case ue.Code == "TAKEN" || strings.Contains(ue.Message, "has already been taken"):
		return apperrors.NewEmailInUseError(internal)
	case ue.Code == "PASSWORD_STARTS_OR_ENDS_WITH_WHITESPACE",
		ue.Code == "TOO_SHORT" && containsField(ue.Field, "password"):
		return apperrors.NewWeakPasswordError("", internal)
	case ue.Code == "THROTTLED":
		return apperrors.NewRateLimitError("Too many attempts. Please wait a moment and try again.")
	default:
		msg := ue.Message
		if msg == "" {
			msg = "Customer details were rejected by the store."
		}
		appErr := apperrors.NewValidationError(msg, nil)
		appErr.Internal = internal
		return appErr
	}
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

// ValidateCustomer confirms the customer exists and owns email. The Admin API
// is tried first; the Storefront API is the fallback.
func (c *ShopifyClient) ValidateCustomer(ctx context.Context, customerID, email string) (*domain.CommerceCustomer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	vars := map[string]interface{}{"id": CustomerGID(customerID)}
	var resp struct {
		Customer *customerNode `json:"customer"`
	}

	var err error
	if c.config.AdminURL != "" {
		err = c.do(ctx, c.config.AdminURL, "X-Shopify-Access-Token", c.config.AdminToken, customerByIDQuery, vars, &resp)
		if err != nil {
			c.logger.WithError(err).Info("Admin customer lookup failed, trying Storefront API")
		}
	}
	if c.config.AdminURL == "" || err != nil {
		resp.Customer = nil
		if err = c.storefront(ctx, customerByIDQuery, vars, &resp); err != nil {
			return nil, c.unavailable("validate_customer", err)
		}
	}

	if resp.Customer == nil {
		return nil, apperrors.NewNotFoundError("Customer not found")
	}
	customer := resp.Customer.toDomain()
	if customer.Email != domain.NormalizeEmail(email) {
		c.logger.WithFields(map[string]interface{}{
			"customer_id":  customer.ID,
			"claimed_hash": logger.HashEmail(email),
			"actual_hash":  logger.HashEmail(customer.Email),
		}).Warn("Commerce customer email mismatch")
		return nil, apperrors.NewEmailMismatchError()
	}
	return customer, nil
}

func (c *ShopifyClient) storefront(ctx context.Context, query string, vars map[string]interface{}, out interface{}) error {
	return c.do(ctx, c.config.StorefrontURL, "X-Shopify-Storefront-Access-Token", c.config.StorefrontToken, query, vars, out)
}

// do posts one GraphQL document and decodes its data member into out
func (c *ShopifyClient) do(ctx context.Context, url, tokenHeader, token, query string, vars map[string]interface{}, out interface{}) error {
	jsonBody, err := json.Marshal(map[string]interface{}{"query": query, "variables": vars})
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(tokenHeader, token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call commerce API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("commerce API returned status %d", resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to parse commerce response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("%w: %s", errGraphQL, envelope.Errors[0].Message)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return fmt.Errorf("commerce response has no data")
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode commerce data: %w", err)
	}
	return nil
}

func (c *ShopifyClient) unavailable(op string, err error) *apperrors.AppError {
	c.logger.WithError(err).WithField("operation", op).Warn("Commerce API unavailable")
	return apperrors.NewCommerceUnavailableError(err)
}
