package download

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/simoninns/DomesdayDuplicator-firmware/internal/device"
	"github.com/simoninns/DomesdayDuplicator-firmware/internal/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	request      uint8
	value, index uint16
	payload      []byte
}

type fakeTransfer struct {
	calls   []call
	failOn  int // -1 disables
	failErr error
}

func (f *fakeTransfer) ControlOut(op string, offset int, request uint8, value, index uint16, payload []byte) error {
	cp := append([]byte(nil), payload...)
	f.calls = append(f.calls, call{request: request, value: value, index: index, payload: cp})
	if f.failOn >= 0 && len(f.calls)-1 == f.failOn {
		return f.failErr
	}
	return nil
}

func (f *fakeTransfer) ControlIn(op string, offset int, request uint8, value, index uint16, length int) ([]byte, error) {
	return make([]byte, length), nil
}

func buildImage(addr uint32, payload []byte, entry uint32) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0x43, 0x59, 0x00, 0xB0})
	writeU32(&buf, uint32(len(payload)/4))
	writeU32(&buf, addr)
	buf.Write(payload)
	writeU32(&buf, 0)
	writeU32(&buf, entry)
	return buf.Bytes()
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func TestDownload_MinimalImage(t *testing.T) {
	data := buildImage(0x40001000, []byte{0xAA, 0xBB, 0xCC, 0xDD}, 0x40002000)
	rd, err := image.NewReader(data)
	require.NoError(t, err)

	xfer := &fakeTransfer{failOn: -1}
	require.NoError(t, New(xfer).Download(rd))

	require.Len(t, xfer.calls, 2)
	assert.Equal(t, uint16(0x1000), xfer.calls[0].value)
	assert.Equal(t, uint16(0x4000), xfer.calls[0].index)
	assert.Equal(t, 4, len(xfer.calls[0].payload))

	assert.Equal(t, uint16(0x2000), xfer.calls[1].value)
	assert.Equal(t, uint16(0x4000), xfer.calls[1].index)
	assert.Empty(t, xfer.calls[1].payload)
}

func TestDownload_OversizeSectionChunking(t *testing.T) {
	payload := bytes.Repeat([]byte{0x11}, 6000)
	data := buildImage(0x40000000, payload, 0x40000000)
	rd, err := image.NewReader(data)
	require.NoError(t, err)

	xfer := &fakeTransfer{failOn: -1}
	require.NoError(t, New(xfer).Download(rd))

	require.Len(t, xfer.calls, 4) // 3 data chunks + jump
	sizes := []int{len(xfer.calls[0].payload), len(xfer.calls[1].payload), len(xfer.calls[2].payload)}
	assert.Equal(t, []int{2048, 2048, 1904}, sizes)

	addrs := []uint32{
		uint32(xfer.calls[0].index)<<16 | uint32(xfer.calls[0].value),
		uint32(xfer.calls[1].index)<<16 | uint32(xfer.calls[1].value),
		uint32(xfer.calls[2].index)<<16 | uint32(xfer.calls[2].value),
	}
	assert.Equal(t, []uint32{0x40000000, 0x40000800, 0x40001000}, addrs)
}

func TestDownload_ChunkDisciplineNeverExceedsCap(t *testing.T) {
	payload := bytes.Repeat([]byte{0x22}, 50000)
	data := buildImage(0x40000000, payload, 0x40000000)
	rd, err := image.NewReader(data)
	require.NoError(t, err)

	xfer := &fakeTransfer{failOn: -1}
	require.NoError(t, New(xfer).Download(rd))

	for _, c := range xfer.calls {
		assert.LessOrEqual(t, len(c.payload), device.MaxTransferPayload)
	}
}

func TestDownload_AddressMonotonicityWithinSection(t *testing.T) {
	payload := bytes.Repeat([]byte{0x33}, 9000)
	data := buildImage(0x40010000, payload, 0x40010000)
	rd, err := image.NewReader(data)
	require.NoError(t, err)

	xfer := &fakeTransfer{failOn: -1}
	require.NoError(t, New(xfer).Download(rd))

	var last uint32 = ^uint32(0)
	for _, c := range xfer.calls[:len(xfer.calls)-1] { // exclude the jump
		addr := uint32(c.index)<<16 | uint32(c.value)
		if last != ^uint32(0) {
			assert.Greater(t, addr, last)
		}
		last = addr
	}
}

func TestDownload_ShortSectionPropagatesError(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x43, 0x59, 0x00, 0xB0})
	writeU32(&buf, 2)
	writeU32(&buf, 0x1000)
	buf.Write([]byte{0x01, 0x02})

	rd, err := image.NewReader(buf.Bytes())
	require.NoError(t, err)

	xfer := &fakeTransfer{failOn: -1}
	err = New(xfer).Download(rd)
	assert.ErrorIs(t, err, image.ErrShortSection)
}

func TestDownload_TruncatedBeforeEntryIsNotAnError(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x43, 0x59, 0x00, 0xB0})
	writeU32(&buf, 1)
	writeU32(&buf, 0x2000)
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	rd, err := image.NewReader(buf.Bytes())
	require.NoError(t, err)

	xfer := &fakeTransfer{failOn: -1}
	require.NoError(t, New(xfer).Download(rd))
	require.Len(t, xfer.calls, 1) // the one section, no jump ever issued
}

func TestDownload_FailedJumpIsNotPropagated(t *testing.T) {
	data := buildImage(0x40001000, []byte{0x01, 0x02, 0x03, 0x04}, 0x40002000)
	rd, err := image.NewReader(data)
	require.NoError(t, err)

	xfer := &fakeTransfer{failOn: 1, failErr: assertErr("device detached")}
	require.NoError(t, New(xfer).Download(rd))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
