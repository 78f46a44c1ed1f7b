// Package noop 原样返回块文本；用于 dry-run 与流水线联调。
package noop

import (
	"context"
	"encoding/json"

	"dipexpand/pkg/contract"
)

type Backend struct{}

func New(json.RawMessage) (contract.Backend, error) { return Backend{}, nil }

var _ contract.Backend = Backend{}

func (Backend) Kind() contract.BackendKind { return contract.KindNoop }

func (Backend) Transform(ctx context.Context, req contract.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return req.Text, nil
}
