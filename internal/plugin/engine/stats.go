package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

// Stats aggregates invocation results per command.
type Stats struct {
	mu       sync.Mutex
	commands map[string]weasel.CommandStat
}

// NewStats creates an empty recorder.
func NewStats() *Stats {
	return &Stats{commands: make(map[string]weasel.CommandStat)}
}

// Record implements Recorder.
func (s *Stats) Record(command string, duration time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stat := s.commands[command]
	stat.Name = command
	stat.Invocations++
	stat.TotalDuration += duration
	stat.LastDuration = duration
	stat.MaxDuration = max(stat.MaxDuration, duration)
	if err != nil {
		stat.Failures++
		stat.LastError = err.Error()
	}
	s.commands[command] = stat
}

// CommandStats implements weasel.CommandStatsProvider. Entries are sorted by name.
func (s *Stats) CommandStats() []weasel.CommandStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]weasel.CommandStat, 0, len(s.commands))
	for _, stat := range s.commands {
		stats = append(stats, stat)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })

	return stats
}
