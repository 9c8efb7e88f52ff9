package live

import "time"

// dropLogInterval spaces out queue-overflow warnings. The capture callback
// only bumps a counter; the writer side reports on its behalf.
const dropLogInterval = 5 * time.Second

// writerLoop consumes capture blocks until the stop signal, then flushes
// whatever the device queued before it stopped. The sample counter moves
// only after the ring append, so the inference loop's snapshot never runs
// ahead of ring contents.
func (s *Session) writerLoop() {
	defer s.wg.Done()
	for {
		select {
		case block := <-s.src.Blocks():
			s.consumeBlock(block)
			s.reportDrops()
		case <-s.stop:
			s.drainBlocks()
			return
		}
	}
}

func (s *Session) drainBlocks() {
	for {
		select {
		case block := <-s.src.Blocks():
			s.consumeBlock(block)
		default:
			return
		}
	}
}

// consumeBlock feeds one block to the ring and the WAV file. Audio
// persistence failures never interrupt buffering; they are logged once per
// failure streak and retried on the next block.
func (s *Session) consumeBlock(block []float32) {
	s.ring.Append(block)
	s.samplesWritten.Add(int64(len(block)))

	if s.wav == nil {
		return
	}
	if err := s.wav.Write(block); err != nil {
		if !s.wavErrStreak {
			s.wavErrStreak = true
			s.log.Warn("audio file write failed, transcript continues", "error", err)
		}
		return
	}
	if s.wavErrStreak {
		s.wavErrStreak = false
		s.log.Info("audio file writes recovered")
	}
}

// reportDrops logs capture-queue overflow at most once per interval.
func (s *Session) reportDrops() {
	dropped := s.rec.Snapshot().BlocksDropped
	if dropped == s.loggedDrops {
		return
	}
	now := time.Now()
	if now.Sub(s.lastDropLog) < dropLogInterval {
		return
	}
	s.log.Warn("capture queue overflow, audio lost",
		"dropped", dropped-s.loggedDrops,
		"total_dropped", dropped,
	)
	s.lastDropLog = now
	s.loggedDrops = dropped
}
