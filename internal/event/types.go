package event

import "time"

// Involved object kinds and reasons the observer recognizes.
const (
	KindBuild = "Build"
	KindPod   = "Pod"

	ReasonBuildStarted   = "BuildStarted"
	ReasonBuildCompleted = "BuildCompleted"
)

// ObjectReference identifies the resource an event is about.
type ObjectReference struct {
	Kind            string
	Namespace       string
	Name            string
	UID             string
	APIVersion      string
	ResourceVersion string
}

// ClusterEvent is the subset of a platform event the observer works with.
type ClusterEvent struct {
	Name           string
	Namespace      string
	UID            string
	Reason         string
	Message        string
	SelfLink       string
	InvolvedObject ObjectReference
	FirstTimestamp time.Time
	LastTimestamp  time.Time
	Count          int32
}

// Kind returns the involved object kind.
func (e ClusterEvent) Kind() string {
	return e.InvolvedObject.Kind
}

// BuildProjection is the normalized payload delivered to Osiris for a build event.
type BuildProjection struct {
	Namespace      string    `json:"namespace"`
	BuildName      string    `json:"buildName"`
	BuildUID       string    `json:"buildUid,omitempty"`
	SelfLink       string    `json:"selfLink"`
	BuildURL       string    `json:"buildUrl,omitempty"`
	Reason         string    `json:"reason"`
	Message        string    `json:"message,omitempty"`
	Completed      bool      `json:"completed"`
	FirstTimestamp time.Time `json:"firstTimestamp"`
	LastTimestamp  time.Time `json:"lastTimestamp"`
	ObservedAt     time.Time `json:"observedAt"`
}
