package split

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"net"
	"strings"
	"testing"

	"resnet_lib/core/ckkswrapper"
	"resnet_lib/nn/layers"
	"resnet_lib/nn/resnet"
	"resnet_lib/tensor"
	"resnet_lib/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startHead serves srv on one loopback connection. Both ends stay open
// until the test ends so a rejected client can still read the error.
func startHead(t *testing.T, srv *HeadServer) (net.Conn, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	serverConn, err := ln.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { serverConn.Close() })

	done := make(chan error, 1)
	go func() { done <- srv.Serve(serverConn) }()
	return conn, done
}

func randomLinear(seed int64, in, out int) *layers.Linear {
	rng := rand.New(rand.NewSource(seed))
	lin := layers.NewLinear(in, out)
	for _, d := range [][]float64{lin.W.Data, lin.B.Data} {
		for i := range d {
			d[i] = rng.Float64()*2 - 1
		}
	}
	return lin
}

func TestHeadSessionMatchesPlain(t *testing.T) {
	he, err := ckkswrapper.NewHeContextWithLogN(12)
	require.NoError(t, err)
	lin := randomLinear(1, 12, 4)
	srv := NewHeadServer(lin)
	srv.Stats = &utils.TimingStats{}

	var buf bytes.Buffer
	oldOut, oldVerbose := utils.Output, utils.Verbose
	defer func() { utils.Output, utils.Verbose = oldOut, oldVerbose }()
	utils.Output, utils.Verbose = &buf, true
	conn, done := startHead(t, srv)

	client, err := NewHeadClient(he, conn, 12)
	require.NoError(t, err)
	client.Stats = &utils.TimingStats{}

	feats := tensor.New(3, 12)
	rng := rand.New(rand.NewSource(2))
	for i := range feats.Data {
		feats.Data[i] = rng.Float64()*2 - 1
	}
	want, err := lin.Forward(feats)
	require.NoError(t, err)

	got, err := client.ClassifyBatch(feats)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, got.Shape)
	assert.InDeltaSlice(t, want.Data, got.Data, 1e-3)

	require.NoError(t, client.Close())
	require.NoError(t, <-done)
	assert.True(t, srv.Stats.ServerHeadTime > 0)
	assert.True(t, client.Stats.EncryptionTime > 0)
	assert.True(t, client.Stats.DecryptionTime > 0)
	// One counter report per request, reset in between.
	assert.Equal(t, 3, strings.Count(buf.String(), "Rotates: 16, Muls: 4"))
	assert.Contains(t, buf.String(), "=== Phase: batch 2 ===")
}

type failingWriter struct{}

var errWrite = errors.New("connection reset")

func (failingWriter) Write([]byte) (int, error) { return 0, errWrite }

func TestServeReturnsReportFailure(t *testing.T) {
	conn := struct {
		io.Reader
		io.Writer
	}{strings.NewReader("not a session"), failingWriter{}}

	err := NewHeadServer(randomLinear(1, 12, 2)).Serve(conn)
	require.Error(t, err)
	assert.ErrorIs(t, err, errWrite)
	assert.Contains(t, err.Error(), "session keys")
}

func TestHeadRejectsFeatureWidth(t *testing.T) {
	he, err := ckkswrapper.NewHeContextWithLogN(12)
	require.NoError(t, err)
	conn, done := startHead(t, NewHeadServer(randomLinear(1, 12, 2)))

	client, err := NewHeadClient(he, conn, 5)
	require.NoError(t, err)
	_, err = client.Classify(make([]float64, 5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote error")

	assert.True(t, errors.Is(<-done, layers.ErrShape))
}

func TestHeadClientChecksInput(t *testing.T) {
	he, err := ckkswrapper.NewHeContextWithLogN(12)
	require.NoError(t, err)
	conn, _ := startHead(t, NewHeadServer(randomLinear(1, 12, 2)))

	_, err = NewHeadClient(he, conn, he.MaxSlots())
	assert.Error(t, err)

	client, err := NewHeadClient(he, conn, 12)
	require.NoError(t, err)
	_, err = client.Classify(make([]float64, 11))
	assert.True(t, errors.Is(err, layers.ErrShape))
	_, err = client.ClassifyBatch(tensor.New(2, 11))
	assert.True(t, errors.Is(err, layers.ErrShape))
}

func TestSplitResNetHead(t *testing.T) {
	if testing.Short() {
		t.Skip("CKKS keys at logN 13")
	}
	model, err := resnet.New(resnet.Config{BlocksPerStage: []int{1, 1, 1, 1}, NumClasses: 5, IncludeHead: true, Seed: 3})
	require.NoError(t, err)

	x := tensor.New(2, 3, 32, 32)
	rng := rand.New(rand.NewSource(4))
	for i := range x.Data {
		x.Data[i] = rng.Float64()*2 - 1
	}
	want, err := model.Forward(x)
	require.NoError(t, err)
	feats, err := model.Features(x)
	require.NoError(t, err)

	he, err := ckkswrapper.NewHeContext()
	require.NoError(t, err)
	conn, done := startHead(t, NewHeadServer(model.FC))
	client, err := NewHeadClient(he, conn, resnet.FeatureDim)
	require.NoError(t, err)

	got, err := client.ClassifyBatch(feats)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.Data, got.Data, 1e-3)
	require.NoError(t, client.Close())
	require.NoError(t, <-done)
}
