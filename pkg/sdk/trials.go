package sdk

import (
	"context"
	"fmt"
	"strings"

	"github.com/absmach/gradsync/pkg/trial"
)

const trialsEndpoint = "/trials"

func (sdk *gradSDK) ListTrials(ctx context.Context, offset, limit uint64) (trial.Page, error) {
	queries := make([]string, 0)
	if offset > 0 {
		queries = append(queries, fmt.Sprintf("offset=%d", offset))
	}
	if limit > 0 {
		queries = append(queries, fmt.Sprintf("limit=%d", limit))
	}
	query := ""
	if len(queries) > 0 {
		query = "?" + strings.Join(queries, "&")
	}

	var page trial.Page
	if err := sdk.get(ctx, sdk.url+trialsEndpoint+query, &page); err != nil {
		return trial.Page{}, err
	}

	return page, nil
}

func (sdk *gradSDK) GetTrial(ctx context.Context, id string) (trial.Trial, error) {
	var t trial.Trial
	if err := sdk.get(ctx, sdk.url+trialsEndpoint+"/"+id, &t); err != nil {
		return trial.Trial{}, err
	}

	return t, nil
}

func (sdk *gradSDK) BestTrial(ctx context.Context) (trial.Trial, error) {
	var t trial.Trial
	if err := sdk.get(ctx, sdk.url+trialsEndpoint+"/best", &t); err != nil {
		return trial.Trial{}, err
	}

	return t, nil
}
