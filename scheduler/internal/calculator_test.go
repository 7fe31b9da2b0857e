package internal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var workloadtests = map[int]struct {
	maxPending      int
	workload        int
	pendingForLabel int
	pendingTotal    int
	expected        int
}{
	0:  {0, 0, 0, 0, 0},
	1:  {0, 1, 0, 0, 1},
	2:  {0, 5, 0, 0, 5},
	3:  {0, 5, 2, 2, 3},
	4:  {0, 5, 5, 5, 0},
	5:  {0, 5, 7, 7, 0},
	6:  {4, 5, 0, 0, 4},
	7:  {4, 5, 0, 3, 1},
	8:  {4, 5, 1, 3, 1},
	9:  {4, 5, 0, 4, 0},
	10: {4, 5, 0, 6, 0},
	11: {4, 2, 1, 1, 1},
	12: {10, 3, 0, 2, 3},
}

func TestExcessWorkload(t *testing.T) {
	for index, tt := range workloadtests {
		t.Run(fmt.Sprintf("test-%d", index), func(t *testing.T) {
			assert.Equal(t, tt.expected, ExcessWorkload(tt.maxPending, tt.workload, tt.pendingForLabel, tt.pendingTotal))
		})
	}
}
