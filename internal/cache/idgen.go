package cache

import "github.com/google/uuid"

// StageSuffix returns a unique suffix for a stage-and-rename sibling
// directory, guaranteeing uniqueness even across two invocations landing
// in the same wall-clock second.
func StageSuffix() string {
	return uuid.NewString()
}

// StagePath returns the sibling path a publish operation should build
// into before renaming over final.
func StagePath(final string) string {
	return final + ".stage." + StageSuffix()
}
