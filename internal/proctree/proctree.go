// Package proctree inspects and signals the process tree rooted at a test
// process. Signalling always covers the process group and every descendant
// found in the process table, so grandchildren that left the group are not
// orphaned.
package proctree

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// Process is one row of the process table.
type Process struct {
	PID     int
	PPID    int
	Command string
}

// List returns a snapshot of the process table.
func List(ctx context.Context) ([]Process, error) {
	out, err := exec.CommandContext(ctx, "ps", "-axo", "pid=,ppid=,command=").Output()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	return parsePS(out)
}

func parsePS(out []byte) ([]Process, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	var procs []Process
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		procs = append(procs, Process{
			PID:     pid,
			PPID:    ppid,
			Command: strings.Join(fields[2:], " "),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse process list: %w", err)
	}
	return procs, nil
}

// Descendants returns every transitive child of parentPID, sorted.
func Descendants(parentPID int, procs []Process) []int {
	children := make(map[int][]int)
	for _, p := range procs {
		children[p.PPID] = append(children[p.PPID], p.PID)
	}

	var out []int
	queue := []int{parentPID}
	seen := map[int]struct{}{parentPID: {}}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		for _, child := range children[pid] {
			if _, ok := seen[child]; ok {
				continue
			}
			seen[child] = struct{}{}
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	sort.Ints(out)
	return out
}

// FilterKillable drops init, the caller's own PID and duplicates.
func FilterKillable(pids []int, selfPID int) []int {
	seen := make(map[int]struct{}, len(pids))
	var out []int
	for _, pid := range pids {
		if pid <= 1 || pid == selfPID {
			continue
		}
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}
