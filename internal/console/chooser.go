package console

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/alex/dlnacast/internal/domain"
)

var ErrInterrupted = errors.New("interrupted")

// Choose lists devices with 1-based numbers and reads a selection from in.
// Invalid answers re-prompt; EOF aborts with ErrInterrupted.
func Choose(in io.Reader, p *Printer, devices []domain.Device) (domain.Device, error) {
	if len(devices) == 0 {
		return domain.Device{}, errors.New("no devices to choose from")
	}

	p.Println("Choose a player")
	for i, d := range devices {
		p.Printf("  %s %s", p.Blue(strconv.Itoa(i+1)+")"), d.Name)
	}

	reader := bufio.NewReader(in)
	for {
		p.Printf("Player [1-%d]:", len(devices))
		line, err := reader.ReadString('\n')
		answer := strings.TrimSpace(line)
		if answer != "" {
			if n, convErr := strconv.Atoi(answer); convErr == nil && n >= 1 && n <= len(devices) {
				return devices[n-1], nil
			}
			for _, d := range devices {
				if strings.EqualFold(d.Name, answer) {
					return d, nil
				}
			}
			p.Errorf("Invalid choice %q", answer)
		}
		if err != nil {
			return domain.Device{}, ErrInterrupted
		}
	}
}
