package api

import (
	"net/http"

	"github.com/absmach/gradsync/pkg/trial"
	"github.com/absmach/supermq"
)

var (
	_ supermq.Response = (*trialResponse)(nil)
	_ supermq.Response = (*listTrialResponse)(nil)
)

type trialResponse struct {
	trial.Trial
}

func (t trialResponse) Code() int {
	return http.StatusOK
}

func (t trialResponse) Headers() map[string]string {
	return map[string]string{}
}

func (t trialResponse) Empty() bool {
	return false
}

type listTrialResponse struct {
	trial.Page
}

func (l listTrialResponse) Code() int {
	return http.StatusOK
}

func (l listTrialResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listTrialResponse) Empty() bool {
	return false
}
