package fifo

import "testing"

func TestFifoWrite(t *testing.T) {
	fifo := NewFifo(100)
	res := fifo.Write([]byte{1, 2, 3, 4, 5})
	if res != 5 {
		t.Errorf("Written only %v", res)
	}
	if fifo.writePos != 5 {
		t.Errorf("Write position is %v", fifo.writePos)
	}
	if fifo.readPos != 0 {
		t.Error()
	}
	res = fifo.Write(make([]byte, 500))
	if res != 94 {
		t.Errorf("Wrote %v", res)
	}
	res = fifo.Write([]byte{1})
	if res != 0 {
		t.Error()
	}
	// Free up some space by reading then re writing
	fifo.Read(make([]byte, 10))
	res = fifo.Write(make([]byte, 10))
	if res != 10 {
		t.Error()
	}
}

func TestFifoAltRead(t *testing.T) {
	fifo := NewFifo(16)
	fifo.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8})

	skipped := fifo.AltBegin(3)
	if skipped != 3 {
		t.Errorf("expected to skip 3, skipped %v", skipped)
	}
	buf := make([]byte, 8)
	n := fifo.AltRead(buf)
	if n != 5 {
		t.Errorf("expected 5 bytes read, got %v", n)
	}
	if buf[0] != 4 {
		t.Errorf("expected alt read to resume at byte 4, got %v", buf[0])
	}
	// The alt read is not committed yet, so the real read position has not moved
	if fifo.GetOccupied() != 8 {
		t.Errorf("expected 8 bytes still occupied before commit, got %v", fifo.GetOccupied())
	}
	fifo.AltFinish()
	if fifo.GetOccupied() != 0 {
		t.Errorf("expected 0 bytes occupied after commit, got %v", fifo.GetOccupied())
	}
}
