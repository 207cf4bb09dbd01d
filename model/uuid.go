package model

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// UnmarshalUUID decodes an identifier received from a request path or body.
func UnmarshalUUID(v interface{}) (id uuid.UUID, err error) {
	str, ok := v.(string)
	if !ok {
		return id, fmt.Errorf("ids must be strings")
	}

	err = id.UnmarshalText([]byte(str))
	if err != nil {
		return id, errors.Wrap(err, "failed to decode UUID")
	}

	return id, nil
}
