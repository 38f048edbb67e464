/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package libinfo

import (
	"debug/buildinfo"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const libShortName = "go-ratelimit"

const moduleName = "github.com/acronis/" + libShortName

const PrometheusLibVersionLabel = "go_ratelimit_version"

// AddPrometheusLibVersionLabel returns a copy of labels with the library
// version label added, so that operators can tell which version of the
// library produced the samples.
func AddPrometheusLibVersionLabel(labels prometheus.Labels) prometheus.Labels {
	labelsCopy := make(prometheus.Labels, len(labels)+1)
	for k, v := range labels {
		labelsCopy[k] = v
	}
	labelsCopy[PrometheusLibVersionLabel] = GetLibVersion()
	return labelsCopy
}

var libVersion string
var libVersionOnce sync.Once

func GetLibVersion() string {
	libVersionOnce.Do(initLibVersion)
	return libVersion
}

func initLibVersion() {
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		libVersion = extractLibVersion(buildInfo, moduleName)
	}
	if libVersion == "" {
		libVersion = "v0.0.0"
	}
}

func extractLibVersion(buildInfo *buildinfo.BuildInfo, modName string) string {
	if buildInfo == nil {
		return ""
	}
	for _, dep := range buildInfo.Deps {
		if isLibModulePath(dep.Path, modName) {
			return dep.Version
		}
	}
	return ""
}

// isLibModulePath reports whether path is modName itself or modName with
// a major version suffix like "modName/v2".
func isLibModulePath(path, modName string) bool {
	if path == modName {
		return true
	}
	rest, ok := strings.CutPrefix(path, modName+"/v")
	if !ok || rest == "" {
		return false
	}
	for _, c := range rest {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
