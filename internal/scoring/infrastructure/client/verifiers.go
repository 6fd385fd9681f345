// Package client implements the external verification collaborators over
// HTTP. Every call runs under the caller's deadline; transport failures are
// returned as errors and score as non-confirming signals upstream.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/consigfacil/creditengine/internal/scoring/domain"
)

// BureauClient calls the credit-bureau collaborator.
type BureauClient struct {
	baseURL string
	client  *http.Client
}

// NewBureauClient creates the bureau verifier.
func NewBureauClient(baseURL string) *BureauClient {
	return &BureauClient{baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
}

// Check implements domain.BureauVerifier.
func (c *BureauClient) Check(ctx context.Context, clientID string) (domain.BureauResult, error) {
	var payload struct {
		HasCreditHistory bool     `json:"has_credit_history"`
		Score            int      `json:"score"`
		Restrictions     []string `json:"restrictions"`
	}
	if err := getJSON(ctx, c.client, c.baseURL+"/v1/bureau/"+url.PathEscape(clientID), &payload); err != nil {
		return domain.BureauResult{Outcome: domain.OutcomeFailed}, err
	}
	return domain.BureauResult{
		Outcome:          domain.OutcomeConfirmed,
		HasCreditHistory: payload.HasCreditHistory,
		Score:            payload.Score,
		Restrictions:     payload.Restrictions,
	}, nil
}

// RegistryClient calls the public-employment-registry collaborator.
type RegistryClient struct {
	baseURL string
	client  *http.Client
}

// NewRegistryClient creates the registry verifier.
func NewRegistryClient(baseURL string) *RegistryClient {
	return &RegistryClient{baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
}

// Check implements domain.RegistryVerifier.
func (c *RegistryClient) Check(ctx context.Context, clientID string) (domain.RegistryResult, error) {
	var payload struct {
		PublicEmployee bool   `json:"public_employee"`
		Employer       string `json:"employer"`
		Salary         string `json:"salary"`
	}
	if err := getJSON(ctx, c.client, c.baseURL+"/v1/registry/"+url.PathEscape(clientID), &payload); err != nil {
		return domain.RegistryResult{Outcome: domain.OutcomeFailed}, err
	}
	result := domain.RegistryResult{
		Outcome:        domain.OutcomeConfirmed,
		PublicEmployee: payload.PublicEmployee,
		Employer:       payload.Employer,
	}
	if payload.Salary != "" {
		if salary, err := decimal.NewFromString(payload.Salary); err == nil {
			result.Salary = salary
		}
	}
	return result, nil
}

// BankClient calls the bank-account titularity/blacklist collaborator.
type BankClient struct {
	baseURL string
	client  *http.Client
}

// NewBankClient creates the bank-account verifier.
func NewBankClient(baseURL string) *BankClient {
	return &BankClient{baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
}

// Check implements domain.BankAccountVerifier.
func (c *BankClient) Check(ctx context.Context, clientID, pixKey string) (domain.BankAccountResult, error) {
	endpoint := fmt.Sprintf("%s/v1/accounts/validate?client_id=%s&pix_key=%s",
		c.baseURL, url.QueryEscape(clientID), url.QueryEscape(pixKey))

	var payload struct {
		IsOwner       bool `json:"is_owner"`
		IsBlacklisted bool `json:"is_blacklisted"`
	}
	if err := getJSON(ctx, c.client, endpoint, &payload); err != nil {
		return domain.BankAccountResult{Outcome: domain.OutcomeFailed}, err
	}
	return domain.BankAccountResult{
		Outcome:       domain.OutcomeConfirmed,
		IsOwner:       payload.IsOwner,
		IsBlacklisted: payload.IsBlacklisted,
	}, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("verifier returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
