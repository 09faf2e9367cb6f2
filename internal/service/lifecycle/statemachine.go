package lifecycle

import "github.com/yasyarik/yaswine/internal/models"

var jobTransitions = map[string][]string{
	models.JobStatusNew:        {models.JobStatusGenerating},
	models.JobStatusGenerating: {models.JobStatusReady, models.JobStatusError},
	models.JobStatusReady:      {models.JobStatusGenerating, models.JobStatusPublished},
	models.JobStatusError:      {models.JobStatusGenerating},
	models.JobStatusPublished:  {models.JobStatusPublished, models.JobStatusReady},
}

// CanTransition reports whether a job may move from one status to another.
// Deletion is allowed from every status and is not modelled here.
func CanTransition(from, to string) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionChannel reports whether a channel may move between posting states.
func CanTransitionChannel(from, to string) bool {
	switch from {
	case models.ChannelStatusNone, models.ChannelStatusError:
		return to == models.ChannelStatusPosting
	case models.ChannelStatusPosting:
		return to == models.ChannelStatusPosted || to == models.ChannelStatusError
	default:
		// POSTED is terminal
		return false
	}
}

// ChannelEligible reports whether a job in status may be posted to channels.
func ChannelEligible(status string) bool {
	return status == models.JobStatusReady || status == models.JobStatusPublished
}
