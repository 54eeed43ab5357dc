// Package uuid wraps UUID generation for unique resource names.
package uuid

import (
	google_uuid "github.com/google/uuid"
)

func MustUUID() string {
	return google_uuid.New().String()
}
