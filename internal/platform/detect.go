package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// RealDetector reports the running machine.
type RealDetector struct{}

func NewDetector() Detector {
	return &RealDetector{}
}

// Detect returns the GOOS/GOARCH pair. On Linux the distribution is added
// when gopsutil can read it; a failed lookup leaves those fields empty.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:      runtime.GOOS,
		Arch:    normalizeArch(runtime.GOARCH),
		ArchRaw: runtime.GOARCH,
	}

	if info.IsLinux() {
		distro, family, version, err := host.PlatformInformationWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
			}
			return info, nil
		}
		if distro = clean(distro); distro != "" {
			info.Distro = distro
			info.Family = mapFamily(family, distro)
			info.Version = clean(version)
		}
	}

	return info, nil
}
