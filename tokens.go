/*
Copyright 2024 Tabwise Finance Authors.

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

package tabwise

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/tabwise-finance/tabwise/config"
	"github.com/tabwise-finance/tabwise/internal/apierror"
	"github.com/tabwise-finance/tabwise/internal/request"

	backoff "github.com/cenkalti/backoff/v4"
)

// TokenTransferor executes fungible token movements on behalf of the engine.
type TokenTransferor interface {
	Transfer(ctx context.Context, token, from, to string, amount int64) error
}

// TokenGateway calls an external transfer service over HTTP. When no gateway
// URL is configured the gateway records transfers as log lines only, which is
// the mode used in development and tests.
type TokenGateway struct {
	url     string
	auth    string
	timeout time.Duration
}

func NewTokenGateway(conf *config.Configuration) *TokenGateway {
	timeout := time.Duration(conf.TokenGateway.Timeout) * time.Second
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &TokenGateway{
		url:     conf.TokenGateway.Url,
		auth:    conf.TokenGateway.Headers.Authorization,
		timeout: timeout,
	}
}

type transferRequest struct {
	Token  string `json:"token"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// Transfer moves amount of token from one account to another. Transient
// gateway failures are retried with exponential backoff before the transfer
// is reported as failed.
func (g *TokenGateway) Transfer(ctx context.Context, token, from, to string, amount int64) error {
	if g.url == "" {
		log.Printf(" [*] Token transfer (no gateway configured): %d %s %s -> %s", amount, token, from, to)
		return nil
	}

	operation := func() error {
		payload, err := request.ToJsonReq(transferRequest{Token: token, From: from, To: to, Amount: amount})
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url+"/transfers", payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if g.auth != "" {
			req.Header.Set("Authorization", g.auth)
		}

		var response map[string]interface{}
		resp, err := request.CallWithTimeout(req, &response, g.timeout)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return apierror.ExternalCallError("token gateway returned a server error", nil)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(apierror.ExternalCallError("token gateway rejected the transfer", nil))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return apierror.ExternalCallError("token transfer failed", err)
	}
	return nil
}
