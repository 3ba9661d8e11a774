package exception

import "github.com/yanun0323/errors"

var (
	ErrConfigInvalid         = errors.New("config: invalid")
	ErrConfigMissingEndpoint = errors.New("config: missing endpoint")
	ErrConfigUnknownExchange = errors.New("config: unknown exchange")
)
