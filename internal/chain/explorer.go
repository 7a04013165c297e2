package chain

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"casino-settlement/internal/models"
)

// Explorer lists token transfers through an etherscan-compatible HTTP API.
type Explorer struct {
	client        *resty.Client
	apiKey        string
	tokenAddress  string
	tokenDecimals int32
}

func NewExplorer(baseURL, apiKey, tokenAddress string, tokenDecimals int32) *Explorer {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &Explorer{
		client:        client,
		apiKey:        apiKey,
		tokenAddress:  strings.ToLower(tokenAddress),
		tokenDecimals: tokenDecimals,
	}
}

type tokenTxResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  []struct {
		Hash            string `json:"hash"`
		From            string `json:"from"`
		To              string `json:"to"`
		Value           string `json:"value"`
		BlockNumber     string `json:"blockNumber"`
		ContractAddress string `json:"contractAddress"`
	} `json:"result"`
}

// ListTransfers returns inbound transfers of the watched token to address,
// starting at fromBlock, oldest first. An empty result set is not an error;
// the explorer reports it with status "0" and message "No transactions found".
func (e *Explorer) ListTransfers(ctx context.Context, address string, fromBlock uint64) ([]Transfer, error) {
	var body tokenTxResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"module":          "account",
			"action":          "tokentx",
			"contractaddress": e.tokenAddress,
			"address":         address,
			"startblock":      strconv.FormatUint(fromBlock, 10),
			"sort":            "asc",
			"apikey":          e.apiKey,
		}).
		SetResult(&body).
		Get("/api")
	if err != nil {
		return nil, &models.ExternalServiceError{Service: "explorer", Err: err}
	}
	if resp.IsError() {
		return nil, &models.ExternalServiceError{
			Service: "explorer",
			Err:     errors.Errorf("http %d", resp.StatusCode()),
		}
	}
	if body.Status != "1" && !strings.Contains(body.Message, "No transactions") {
		return nil, &models.ExternalServiceError{
			Service: "explorer",
			Err:     errors.Errorf("api status %s: %s", body.Status, body.Message),
		}
	}

	transfers := make([]Transfer, 0, len(body.Result))
	for _, row := range body.Result {
		// The API returns both directions; only inbound transfers of the
		// watched token count as deposits.
		if !strings.EqualFold(row.To, address) {
			continue
		}
		if e.tokenAddress != "" && !strings.EqualFold(row.ContractAddress, e.tokenAddress) {
			continue
		}

		block, err := strconv.ParseUint(row.BlockNumber, 10, 64)
		if err != nil {
			return nil, &models.ExternalServiceError{
				Service: "explorer",
				Err:     errors.Wrapf(err, "bad block number %q for tx %s", row.BlockNumber, row.Hash),
			}
		}
		raw, err := decimal.NewFromString(row.Value)
		if err != nil {
			return nil, &models.ExternalServiceError{
				Service: "explorer",
				Err:     errors.Wrapf(err, "bad value %q for tx %s", row.Value, row.Hash),
			}
		}

		transfers = append(transfers, Transfer{
			TxHash:      strings.ToLower(row.Hash),
			From:        strings.ToLower(row.From),
			To:          strings.ToLower(row.To),
			Amount:      raw.Shift(-e.tokenDecimals),
			BlockNumber: block,
		})
	}
	return transfers, nil
}
