package prof

// Profile names a runtime/pprof profile.
type Profile string

const (
	ProfileCPU          Profile = "cpu"
	ProfileHeap         Profile = "heap"
	ProfileAllocs       Profile = "allocs"
	ProfileGoroutine    Profile = "goroutine"
	ProfileThreadCreate Profile = "threadcreate"
	ProfileBlock        Profile = "block"
	ProfileMutex        Profile = "mutex"
)

// Snapshots lists the profiles accepted by Write and WriteTo.
var Snapshots = []Profile{
	ProfileHeap, ProfileAllocs, ProfileGoroutine,
	ProfileThreadCreate, ProfileBlock, ProfileMutex,
}

func (p Profile) String() string { return string(p) }

// ParseProfile returns the profile named s.
func ParseProfile(s string) (Profile, bool) {
	if Profile(s) == ProfileCPU {
		return ProfileCPU, true
	}
	for _, p := range Snapshots {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}
