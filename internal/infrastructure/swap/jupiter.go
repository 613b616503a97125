package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/vitos/crypto_auto_trader/internal/domain"
	"github.com/vitos/crypto_auto_trader/internal/infrastructure/ratelimit"
	"go.uber.org/zap"
)

const (
	JupiterBaseURL = "https://quote-api.jup.ag/v6"

	// Throttle dependency names. Quotes and swap submission share the
	// aggregator's rate limit budget.
	depQuote = "jupiter-quote"
	depSwap  = "jupiter-swap"

	quoteRetryAttempts = 4
	quoteRetryDelay    = 500 * time.Millisecond
)

// JupiterClient quotes and executes swaps through the aggregator REST API.
// Every outbound call goes through the throttle.
type JupiterClient struct {
	baseURL  string
	client   *http.Client
	throttle *ratelimit.Throttle
	logger   *zap.Logger
}

func NewJupiterClient(baseURL string, throttle *ratelimit.Throttle, logger *zap.Logger) *JupiterClient {
	if baseURL == "" {
		baseURL = JupiterBaseURL
	}
	return &JupiterClient{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 15 * time.Second},
		throttle: throttle,
		logger:   logger,
	}
}

func (j *JupiterClient) Quote(ctx context.Context, inputMint, outputMint string, amount float64, slippageBps int) (*domain.SwapQuote, error) {
	if amount <= 0 {
		return nil, domain.NewConfigError("amount", "must be positive")
	}

	var quote *domain.SwapQuote
	err := j.throttle.WithRetry(ctx, depQuote, quoteRetryAttempts, quoteRetryDelay, func(ctx context.Context) error {
		q, err := j.fetchQuote(ctx, inputMint, outputMint, amount, slippageBps)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

func (j *JupiterClient) fetchQuote(ctx context.Context, inputMint, outputMint string, amount float64, slippageBps int) (*domain.SwapQuote, error) {
	path := fmt.Sprintf("/quote?inputMint=%s&outputMint=%s&amount=%s&slippageBps=%d",
		inputMint, outputMint, strconv.FormatFloat(amount, 'f', -1, 64), slippageBps)

	body, err := j.sendRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		InAmount       string `json:"inAmount"`
		OutAmount      string `json:"outAmount"`
		PriceImpactPct string `json:"priceImpactPct"`
		ErrorMsg       string `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	if result.ErrorMsg != "" {
		return nil, fmt.Errorf("quote error: %s", result.ErrorMsg)
	}

	inAmount, _ := strconv.ParseFloat(result.InAmount, 64)
	outAmount, _ := strconv.ParseFloat(result.OutAmount, 64)
	impact, _ := strconv.ParseFloat(result.PriceImpactPct, 64)
	if outAmount <= 0 {
		return nil, fmt.Errorf("quote returned no output for %s -> %s", inputMint, outputMint)
	}

	return &domain.SwapQuote{
		InputMint:      inputMint,
		OutputMint:     outputMint,
		InAmount:       inAmount,
		OutAmount:      outAmount,
		PriceImpactPct: impact * 100, // API reports a fraction
	}, nil
}

// Execute performs the swap. In dry-run mode only the quote leg runs and the
// result carries no signature.
func (j *JupiterClient) Execute(ctx context.Context, inputMint, outputMint string, amount float64, signer string, slippageBps int, dryRun bool) (*domain.SwapResult, error) {
	quote, err := j.Quote(ctx, inputMint, outputMint, amount, slippageBps)
	if err != nil {
		return nil, err
	}

	if dryRun {
		return &domain.SwapResult{
			Success:        true,
			OutputAmount:   quote.OutAmount,
			PriceImpactPct: quote.PriceImpactPct,
		}, nil
	}

	if signer == "" {
		return nil, domain.NewConfigError("signer", "required for live execution")
	}

	payload := map[string]interface{}{
		"userPublicKey": signer,
		"inputMint":     inputMint,
		"outputMint":    outputMint,
		"amount":        strconv.FormatFloat(amount, 'f', -1, 64),
		"slippageBps":   slippageBps,
	}

	var signature string
	err = j.throttle.WithRetry(ctx, depSwap, 1, 0, func(ctx context.Context) error {
		body, err := j.sendRequest(ctx, "POST", "/swap", payload)
		if err != nil {
			return err
		}

		var result struct {
			Signature string `json:"signature"`
			ErrorMsg  string `json:"error"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return err
		}
		if result.ErrorMsg != "" {
			return fmt.Errorf("swap error: %s", result.ErrorMsg)
		}
		signature = result.Signature
		return nil
	})
	if err != nil {
		j.logger.Warn("Swap submission failed",
			zap.String("input", inputMint), zap.String("output", outputMint), zap.Error(err))
		return &domain.SwapResult{Success: false, Error: err.Error()}, nil
	}

	return &domain.SwapResult{
		Success:        true,
		OutputAmount:   quote.OutAmount,
		PriceImpactPct: quote.PriceImpactPct,
		Signature:      signature,
	}, nil
}

func (j *JupiterClient) sendRequest(ctx context.Context, method, path string, payload map[string]interface{}) ([]byte, error) {
	var body []byte
	if payload != nil {
		jsonBody, _ := json.Marshal(payload)
		body = jsonBody
	}

	req, err := http.NewRequestWithContext(ctx, method, j.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limit exceeded: HTTP 429: %s", string(respBody))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
