package event

import (
	"net/url"
	"strings"
	"time"
)

// IsBuildEvent reports whether the event is about a Build resource.
func IsBuildEvent(e ClusterEvent) bool {
	return e.Kind() == KindBuild
}

// IsPodEvent reports whether the event is about a Pod. Pod events are recognized
// but not forwarded.
func IsPodEvent(e ClusterEvent) bool {
	return e.Kind() == KindPod
}

// IsRelevant reports whether the event is a build start or completion.
func IsRelevant(e ClusterEvent) bool {
	if !IsBuildEvent(e) {
		return false
	}
	switch e.Reason {
	case ReasonBuildStarted, ReasonBuildCompleted:
		return true
	default:
		return false
	}
}

// Project derives the build projection of a relevant event. clusterHost is joined
// with the event self-link to form BuildURL; observedAt is stamped as given so the
// result is a pure function of its inputs. Callers must check IsRelevant first.
func Project(e ClusterEvent, clusterHost string, observedAt time.Time) BuildProjection {
	namespace := e.InvolvedObject.Namespace
	if namespace == "" {
		namespace = e.Namespace
	}
	return BuildProjection{
		Namespace:      namespace,
		BuildName:      e.InvolvedObject.Name,
		BuildUID:       e.InvolvedObject.UID,
		SelfLink:       e.SelfLink,
		BuildURL:       joinURL(clusterHost, e.SelfLink),
		Reason:         e.Reason,
		Message:        e.Message,
		Completed:      e.Reason == ReasonBuildCompleted,
		FirstTimestamp: e.FirstTimestamp.UTC(),
		LastTimestamp:  e.LastTimestamp.UTC(),
		ObservedAt:     observedAt.UTC(),
	}
}

func joinURL(host, link string) string {
	if host == "" || link == "" {
		return ""
	}
	base, err := url.Parse(host)
	if err != nil || base.Host == "" {
		return strings.TrimRight(host, "/") + "/" + strings.TrimLeft(link, "/")
	}
	ref, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
