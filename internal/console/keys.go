package console

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

type Key int

const (
	KeySpace Key = iota + 1
	KeyQuit
	KeyInterrupt
	KeyInfo
	KeyUp
	KeyDown
	KeyRight
)

func (k Key) String() string {
	switch k {
	case KeySpace:
		return "space"
	case KeyQuit:
		return "q"
	case KeyInterrupt:
		return "ctrl+c"
	case KeyInfo:
		return "i"
	case KeyUp:
		return "up"
	case KeyDown:
		return "down"
	case KeyRight:
		return "right"
	default:
		return "unknown"
	}
}

// DecodeKeys maps one raw read from the terminal to the keys it contains.
// Unknown bytes and escape sequences are dropped.
func DecodeKeys(b []byte) []Key {
	var keys []Key
	for i := 0; i < len(b); i++ {
		switch c := b[i]; {
		case c == ' ':
			keys = append(keys, KeySpace)
		case c == 'q' || c == 'Q':
			keys = append(keys, KeyQuit)
		case c == 0x03:
			keys = append(keys, KeyInterrupt)
		case c == 'i' || c == 'I':
			keys = append(keys, KeyInfo)
		case c == 0x1b && i+2 < len(b) && (b[i+1] == '[' || b[i+1] == 'O'):
			switch b[i+2] {
			case 'A':
				keys = append(keys, KeyUp)
			case 'B':
				keys = append(keys, KeyDown)
			case 'C':
				keys = append(keys, KeyRight)
			}
			i += 2
		}
	}
	return keys
}

// KeySource reads keypresses from a terminal in raw mode.
type KeySource struct {
	in    *os.File
	state *term.State
	keys  chan Key
	done  chan struct{}

	closeOnce sync.Once
}

// OpenKeys switches in to raw mode when it is a terminal and starts decoding
// keypresses. The reader goroutine stays blocked on in until the process
// exits; Close only restores the terminal and stops delivery.
func OpenKeys(in *os.File) (*KeySource, error) {
	ks := &KeySource{
		in:   in,
		keys: make(chan Key, 16),
		done: make(chan struct{}),
	}

	if fd := int(in.Fd()); term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return nil, errors.Wrap(err, "enable raw terminal mode")
		}
		ks.state = state
	}

	go ks.read()
	return ks, nil
}

func (k *KeySource) Keys() <-chan Key {
	return k.keys
}

func (k *KeySource) read() {
	buf := make([]byte, 16)
	for {
		n, err := k.in.Read(buf)
		for _, key := range DecodeKeys(buf[:n]) {
			select {
			case k.keys <- key:
			case <-k.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Close restores the terminal. Safe to call more than once.
func (k *KeySource) Close() error {
	var err error
	k.closeOnce.Do(func() {
		close(k.done)
		if k.state != nil {
			err = term.Restore(int(k.in.Fd()), k.state)
		}
	})
	return err
}
