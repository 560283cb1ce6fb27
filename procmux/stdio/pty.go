package stdio

import (
	"fmt"
	"os"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// openPTY allocates a pseudo-terminal pair and puts the slave side into
// raw mode: no echo, no CR/LF translation, no signal keys. The child
// sees a terminal while bytes cross the boundary exactly as written.
func openPTY(role string) (master, slave *os.File, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s pty; %w", role, err)
	}
	if _, err = term.MakeRaw(int(slave.Fd())); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, nil, fmt.Errorf("setting %s pty raw; %w", role, err)
	}
	return master, slave, nil
}
