package wizard

import "errors"

// Validation errors for the interactive wizard.
var (
	errNameRequired    = errors.New("name is required")
	errNameInvalid     = errors.New("name must be 1-63 lowercase alphanumeric characters, '-' or '_', starting and ending with alphanumeric")
	errImageRequired   = errors.New("image name is required")
	errImageInvalid    = errors.New("image name must not contain whitespace or a tag")
	errReplicasInvalid = errors.New("replicas must be a non-negative integer")
	errPortInvalid     = errors.New("port must be between 1 and 65535")
	errBucketRequired  = errors.New("bucket is required for the s3 store")
)
