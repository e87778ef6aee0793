package errors

import "strings"

// Convenience constructors for common error patterns

// Configuration errors

func ConfigInvalid(field, reason string) *PipelineError {
	return New(CategoryConfig, SeverityFatal, "invalid configuration").
		WithContext("field", field).
		WithContext("reason", reason)
}

func ConfigNotFound(path string) *PipelineError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func CredentialsMissing(which string) *PipelineError {
	return New(CategoryAuth, SeverityFatal, "registry credentials not resolvable").
		WithContext("credential", which)
}

// Build pipeline errors

func BuildFailed(asset string, cause error) *PipelineError {
	return Wrap(cause, CategoryBuild, SeverityError, "asset build failed").
		WithContext("asset", asset)
}

func ArtifactMissing(asset string) *PipelineError {
	return New(CategoryArtifact, SeverityFatal, "asset produced no artifact").
		WithContext("asset", asset)
}

// ManifestMismatch reports the exact difference between the collected and
// expected artifact sets. Both slices may be empty, but not both at once.
func ManifestMismatch(missing, unexpected []string) *PipelineError {
	e := New(CategoryManifest, SeverityFatal, "artifact set does not match expected catalog set")
	if len(missing) > 0 {
		e = e.WithContext("missing", strings.Join(missing, ","))
	}
	if len(unexpected) > 0 {
		e = e.WithContext("unexpected", strings.Join(unexpected, ","))
	}
	return e
}

// Git errors

func BranchSyncFailed(branch string, cause error) *PipelineError {
	return Wrap(cause, CategoryGit, SeverityFatal, "branch sync failed").
		WithContext("branch", branch)
}

// Store errors

func BlobNotFound(name string) *PipelineError {
	return New(CategoryStore, SeverityFatal, "named artifact absent in store").
		WithContext("name", name)
}

func StorePutFailed(name string, cause error) *PipelineError {
	return WrapRetryable(cause, CategoryStore, SeverityError, "artifact upload failed").
		WithContext("name", name)
}

// Internal errors

func InternalError(message string, cause error) *PipelineError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
