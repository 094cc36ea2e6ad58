package api

import (
	"context"
	"errors"

	pkgerrors "github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/search"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-kit/kit/endpoint"
)

func listTrialsEndpoint(svc search.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listTrialResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listTrialResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		page, err := svc.ListTrials(ctx, req.offset, req.limit)
		if err != nil {
			return listTrialResponse{}, err
		}

		return listTrialResponse{
			Page: page,
		}, nil
	}
}

func getTrialEndpoint(svc search.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return trialResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return trialResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		t, err := svc.GetTrial(ctx, req.id)
		if err != nil {
			return trialResponse{}, err
		}

		return trialResponse{
			Trial: t,
		}, nil
	}
}

func bestTrialEndpoint(svc search.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		t, err := svc.BestTrial(ctx)
		if err != nil {
			return trialResponse{}, err
		}

		return trialResponse{
			Trial: t,
		}, nil
	}
}
