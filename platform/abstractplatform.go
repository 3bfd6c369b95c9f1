package platform

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"lautenbacher.net/golights/config"
	"lautenbacher.net/golights/controller"
)

type AbstractPlatform struct {
	config         *config.Config
	commands       chan controller.Command
	readyChan      chan bool
	readyOnce      sync.Once
	source         atomic.Pointer[Source]
	attached       chan struct{}
	shutdownMutex  sync.RWMutex
	isShuttingDown bool
}

func newAbstractPlatform(conf *config.Config) *AbstractPlatform {
	return &AbstractPlatform{
		config:    conf,
		commands:  make(chan controller.Command, 16),
		readyChan: make(chan bool),
		attached:  make(chan struct{}, 1),
	}
}

func (s *AbstractPlatform) Commands() <-chan controller.Command {
	return s.commands
}

func (s *AbstractPlatform) Ready() <-chan bool {
	return s.readyChan
}

func (s *AbstractPlatform) Attach(src Source) {
	s.source.Store(&src)
	select {
	case s.attached <- struct{}{}:
	default:
	}
}

// currentSource returns the attached session or nil.
func (s *AbstractPlatform) currentSource() Source {
	if src := s.source.Load(); src != nil {
		return *src
	}
	return nil
}

func (s *AbstractPlatform) markReady() {
	s.readyOnce.Do(func() { close(s.readyChan) })
}

func (s *AbstractPlatform) setInShutdown() {
	s.shutdownMutex.Lock()
	s.isShuttingDown = true
	s.shutdownMutex.Unlock()
}

// emit forwards a command without blocking the caller, usually the UI
// event loop.
func (s *AbstractPlatform) emit(cmd controller.Command) {
	s.shutdownMutex.RLock()
	defer s.shutdownMutex.RUnlock()
	if s.isShuttingDown {
		return
	}
	select {
	case s.commands <- cmd:
	default:
		slog.Warn("Command queue full, dropping command", "command", cmd.Kind)
	}
}
