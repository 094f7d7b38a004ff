package buffer

import (
	"fmt"
	"sync"
)

var _ Replacer = &LRUKReplacer{}

type frameRecord struct {
	// history keeps the last up to k access timestamps, oldest first.
	history   []uint64
	evictable bool
}

// kthRecent returns the timestamp of the k-th most recent access and whether
// the frame has at least k recorded accesses. With the history bounded to k
// entries the k-th most recent is simply the oldest kept one.
func (r *frameRecord) kthRecent(k int) (uint64, bool) {
	if len(r.history) < k {
		return 0, false
	}
	return r.history[0], true
}

func (r *frameRecord) oldest() uint64 { return r.history[0] }

// LRUKReplacer evicts the evictable frame with the largest backward k
// distance: the time between now and the k-th most recent access. Frames with
// fewer than k accesses have infinite distance; ties are broken by the oldest
// recorded access, which degenerates to classic LRU among young frames.
// Timestamps are a logical counter, not wall clock.
type LRUKReplacer struct {
	numFrames int
	k         int
	currentTS uint64
	currSize  int
	frames    map[int]*frameRecord
	mu        sync.Mutex
}

func NewLRUKReplacer(numFrames, k int) *LRUKReplacer {
	return &LRUKReplacer{
		numFrames: numFrames,
		k:         k,
		frames:    make(map[int]*frameRecord, numFrames),
	}
}

func (l *LRUKReplacer) RecordAccess(frameID int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.checkFrameID(frameID)

	rec, ok := l.frames[frameID]
	if !ok {
		rec = &frameRecord{}
		l.frames[frameID] = rec
	}
	rec.history = append(rec.history, l.currentTS)
	if len(rec.history) > l.k {
		rec.history = rec.history[1:]
	}
	l.currentTS++
}

func (l *LRUKReplacer) SetEvictable(frameID int, evictable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.checkFrameID(frameID)

	rec, ok := l.frames[frameID]
	if !ok {
		return
	}
	if rec.evictable == evictable {
		return
	}
	rec.evictable = evictable
	if evictable {
		l.currSize++
	} else {
		l.currSize--
	}
}

func (l *LRUKReplacer) Remove(frameID int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.checkFrameID(frameID)

	rec, ok := l.frames[frameID]
	if !ok {
		return
	}
	if !rec.evictable {
		panic(fmt.Sprintf("removing a non-evictable frame from the replacer: %v", frameID))
	}
	delete(l.frames, frameID)
	l.currSize--
}

func (l *LRUKReplacer) Evict() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currSize == 0 {
		return 0, false
	}

	victim := -1
	victimInf := false
	var victimDistance uint64
	var victimOldest uint64

	for fid, rec := range l.frames {
		if !rec.evictable {
			continue
		}

		kth, hasK := rec.kthRecent(l.k)
		if !hasK {
			// Infinite distance beats any finite one; among infinite frames
			// the oldest access wins.
			if !victimInf || rec.oldest() < victimOldest {
				victim = fid
				victimInf = true
				victimOldest = rec.oldest()
			}
			continue
		}
		if victimInf {
			continue
		}

		distance := l.currentTS - kth
		if victim == -1 || distance > victimDistance ||
			(distance == victimDistance && rec.oldest() < victimOldest) {
			victim = fid
			victimDistance = distance
			victimOldest = rec.oldest()
		}
	}

	if victim == -1 {
		return 0, false
	}

	delete(l.frames, victim)
	l.currSize--
	return victim, true
}

func (l *LRUKReplacer) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currSize
}

func (l *LRUKReplacer) checkFrameID(frameID int) {
	if frameID < 0 || frameID >= l.numFrames {
		panic(fmt.Sprintf("frame id %v is out of replacer range %v", frameID, l.numFrames))
	}
}
