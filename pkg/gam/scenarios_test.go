package gam

import (
	"net"

	"github.com/alpha-unito/gam/internal/bootstrap"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sync/errgroup"
)

func ginkgoFreePort() string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	defer ln.Close()
	_, port, err := net.SplitHostPort(ln.Addr().String())
	Expect(err).NotTo(HaveOccurred())
	return port
}

// twoRankConfigs builds matching bootstrap.Config values for a
// two-executor group on loopback TCP.
func twoRankConfigs() (bootstrap.Config, bootstrap.Config) {
	nodes := []bootstrap.Node{
		{Host: "127.0.0.1", SvcPap: ginkgoFreePort(), SvcMem: ginkgoFreePort(), SvcDmn: ginkgoFreePort()},
		{Host: "127.0.0.1", SvcPap: ginkgoFreePort(), SvcMem: ginkgoFreePort(), SvcDmn: ginkgoFreePort()},
	}
	cfg0 := bootstrap.Config{Rank: 0, Cardinality: 2, Nodes: nodes}
	cfg1 := bootstrap.Config{Rank: 1, Cardinality: 2, Nodes: nodes}
	return cfg0, cfg1
}

// startTwoRanks brings both executors up concurrently: each one's
// Context.New binds its own listeners and dials the other's, and
// Links.Peer's retry loop absorbs whichever one wins the race.
func startTwoRanks() (*Context, *Context) {
	cfg0, cfg1 := twoRankConfigs()
	var ctx0, ctx1 *Context
	g := new(errgroup.Group)
	g.Go(func() error {
		c, err := New(cfg0)
		ctx0 = c
		return err
	})
	g.Go(func() error {
		c, err := New(cfg1)
		ctx1 = c
		return err
	})
	Expect(g.Wait()).To(Succeed())
	return ctx0, ctx1
}

type payload struct {
	Tag   string
	Value int
}

var _ = Describe("a two-executor group", func() {
	var ctx0, ctx1 *Context

	BeforeEach(func() {
		ctx0, ctx1 = startTwoRanks()
	})

	// Each Shutdown waits for the other rank's DMN_END, so both run
	// concurrently.
	AfterEach(func() {
		var g errgroup.Group
		g.Go(func() error { ctx0.Shutdown(); return nil })
		g.Go(func() error { ctx1.Shutdown(); return nil })
		_ = g.Wait()
	})

	It("pings a private object between owners across ranks", func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			p := NewPrivate(ctx0, payload{Tag: "pingpong", Value: 1}, nil)
			Expect(p.Push(1)).To(Succeed())
		}()

		pulled, err := PullPrivatePtr[payload](ctx1, 0)
		Expect(err).NotTo(HaveOccurred())
		Eventually(done).Should(BeClosed())

		child, err := pulled.Local()
		Expect(err).NotTo(HaveOccurred())
		Expect(child.Get().Value).To(Equal(1))
		child.Get().Value = 2
		back, err := child.IntoPrivatePtr()
		Expect(err).NotTo(HaveOccurred())

		goBack := make(chan struct{})
		go func() {
			defer close(goBack)
			Expect(back.Push(0)).To(Succeed())
		}()
		final, err := PullPrivatePtr[payload](ctx0, 1)
		Expect(err).NotTo(HaveOccurred())
		Eventually(goBack).Should(BeClosed())

		finalChild, err := final.Local()
		Expect(err).NotTo(HaveOccurred())
		Expect(finalChild.Get().Value).To(Equal(2))
		Expect(finalChild.Close()).To(Succeed())
	})

	It("fans a public object out to a peer and serves a remote load", func() {
		p := NewPublic(ctx0, payload{Tag: "fanout", Value: 7}, nil)

		done := make(chan struct{})
		go func() {
			defer close(done)
			Expect(p.Push(1)).To(Succeed())
		}()
		pulled, err := PullPublicPtr[payload](ctx1, 0)
		Expect(err).NotTo(HaveOccurred())
		Eventually(done).Should(BeClosed())

		local, err := pulled.Local()
		Expect(err).NotTo(HaveOccurred())
		Expect(local.Value()).To(Equal(payload{Tag: "fanout", Value: 7}))

		count, err := pulled.UseCount()
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(uint64(2)))
	})

	It("publishes a private object to a fresh public address", func() {
		p := NewPrivate(ctx0, payload{Tag: "publish", Value: 3}, nil)
		pub, err := p.Publish()
		Expect(err).NotTo(HaveOccurred())
		Expect(ctx0.IsPublic(pub.Pointer())).To(BeTrue())

		local, err := pub.Local()
		Expect(err).NotTo(HaveOccurred())
		Expect(local.Value().Value).To(Equal(3))
	})
})
