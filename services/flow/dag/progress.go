// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import "math"

// CalculateProgress reduces per-node progress to one percentage.
//
// The result is the mean of every node's Progress rounded half-up. Status is
// not weighted; a complete node is expected to already carry 100.
// An empty list yields 0.
func CalculateProgress(nodes []Node) int {
	if len(nodes) == 0 {
		return 0
	}
	total := 0
	for _, n := range nodes {
		total += n.Progress
	}
	return int(math.Floor(float64(total)/float64(len(nodes)) + 0.5))
}

// clampProgress bounds an adapter reported percentage to 0-100.
func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
