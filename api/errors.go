package api

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrSchemaMismatch         = errors.New("schema mismatch")
	ErrFeatureNotFound        = errors.New("feature not found")
	ErrOnDemandTransform      = errors.New("on demand transform failed")
	ErrTTLConfig              = errors.New("invalid ttl")
	ErrOnlineStoreUnavailable = errors.New("online store unavailable")
	ErrAmbiguousFeatureName   = errors.New("ambiguous feature name")
	ErrInvalidFeatureRef      = errors.New("invalid feature reference")
)

// SchemaMismatchError reports required columns missing from an entity input.
type SchemaMismatchError struct {
	Table   string
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: %s is missing required columns [%s]", e.Table, strings.Join(e.Missing, ", "))
}

func (e *SchemaMismatchError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

type FeatureNotFoundError struct {
	Ref    string
	Reason string
}

func (e *FeatureNotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("feature not found: %s, %s", e.Ref, e.Reason)
	}
	return fmt.Sprintf("feature not found: %s", e.Ref)
}

func (e *FeatureNotFoundError) Is(target error) bool {
	return target == ErrFeatureNotFound
}

type OnDemandTransformError struct {
	View  string
	Cause error
}

func (e *OnDemandTransformError) Error() string {
	return fmt.Sprintf("on demand feature view %s: %v", e.View, e.Cause)
}

func (e *OnDemandTransformError) Is(target error) bool {
	return target == ErrOnDemandTransform
}

func (e *OnDemandTransformError) Unwrap() error {
	return e.Cause
}

type TTLConfigError struct {
	View string
	TTL  time.Duration
}

func (e *TTLConfigError) Error() string {
	return fmt.Sprintf("feature view %s has invalid ttl %s", e.View, e.TTL)
}

func (e *TTLConfigError) Is(target error) bool {
	return target == ErrTTLConfig
}

// OnlineStoreUnavailableError wraps a failed read or write against the online
// store. It is never used for a key that simply has no value.
type OnlineStoreUnavailableError struct {
	Store string
	Op    string
	Cause error
}

func (e *OnlineStoreUnavailableError) Error() string {
	return fmt.Sprintf("online store %s %s failed: %v", e.Store, e.Op, e.Cause)
}

func (e *OnlineStoreUnavailableError) Is(target error) bool {
	return target == ErrOnlineStoreUnavailable
}

func (e *OnlineStoreUnavailableError) Unwrap() error {
	return e.Cause
}

type AmbiguousFeatureNameError struct {
	Name  string
	Views []string
}

func (e *AmbiguousFeatureNameError) Error() string {
	return fmt.Sprintf("feature name %s is ambiguous across feature views [%s], set full feature names to disambiguate",
		e.Name, strings.Join(e.Views, ", "))
}

func (e *AmbiguousFeatureNameError) Is(target error) bool {
	return target == ErrAmbiguousFeatureName
}

type InvalidFeatureRefError struct {
	Ref    string
	Reason string
}

func (e *InvalidFeatureRefError) Error() string {
	return fmt.Sprintf("invalid feature reference %q: %s", e.Ref, e.Reason)
}

func (e *InvalidFeatureRefError) Is(target error) bool {
	return target == ErrInvalidFeatureRef
}
