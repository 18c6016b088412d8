package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// InitialVersion is the graph version of the first committed snapshot.
const InitialVersion = "1.0.0"

// NextVersion bumps the patch component of a major.minor.patch graph
// version. An empty or malformed previous version restarts at InitialVersion.
func NextVersion(prev string) string {
	parts := strings.Split(strings.TrimPrefix(prev, "v"), ".")
	if len(parts) != 3 {
		return InitialVersion
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return InitialVersion
		}
		nums[i] = n
	}
	return fmt.Sprintf("%d.%d.%d", nums[0], nums[1], nums[2]+1)
}
