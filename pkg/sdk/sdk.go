// Package sdk is a client of the gradsync status API.
package sdk

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/trial"
)

const CTJSON string = "application/json"

type SDK interface {
	// ListTrials lists trials in creation order.
	//
	// example:
	//  page, _ := sdk.ListTrials(ctx, 0, 10)
	//  fmt.Println(page.Total)
	ListTrials(ctx context.Context, offset, limit uint64) (trial.Page, error)

	// GetTrial gets a trial by id.
	//
	// example:
	//  t, _ := sdk.GetTrial(ctx, "0199f7a8-5b4e-7c1a-9d2f-3e6b8a1c4d5e")
	//  fmt.Println(t.Metric)
	GetTrial(ctx context.Context, id string) (trial.Trial, error)

	// BestTrial gets the completed trial with the best metric.
	//
	// example:
	//  t, _ := sdk.BestTrial(ctx)
	//  fmt.Println(t.Params)
	BestTrial(ctx context.Context) (trial.Trial, error)

	// Health reports the service health.
	Health(ctx context.Context) (HealthInfo, error)
}

type HealthInfo struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Description string `json:"description"`
	BuildTime   string `json:"build_time"`
	InstanceID  string `json:"instance_id"`
}

type gradSDK struct {
	url    string
	client *http.Client
}

type Config struct {
	URL             string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &gradSDK{
		url: cfg.URL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *gradSDK) Health(ctx context.Context) (HealthInfo, error) {
	var h HealthInfo
	if err := sdk.get(ctx, sdk.url+"/health", &h); err != nil {
		return HealthInfo{}, err
	}

	return h, nil
}

func (sdk *gradSDK) get(ctx context.Context, reqURL string, out any) error {
	body, err := sdk.processRequest(ctx, http.MethodGet, reqURL, nil, http.StatusOK)
	if err != nil {
		return err
	}

	return json.Unmarshal(body, out)
}

func (sdk *gradSDK) processRequest(ctx context.Context, method, reqURL string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", CTJSON)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		return []byte{}, responseError(resp.StatusCode, body)
	}

	return body, nil
}

func responseError(code int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &e)

	switch code {
	case http.StatusNotFound:
		return errors.ErrNotFound
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", errors.ErrInvalidData, e.Error)
	default:
		return fmt.Errorf("unexpected response code %d: %s", code, e.Error)
	}
}
