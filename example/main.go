// Command example spins up a handful of gossipmesh nodes in a single
// process, has one of them set a value and run an election, and prints
// the cluster's view of membership and the election outcome as they
// converge.
package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mcastellin/gossipmesh"
	"github.com/mcastellin/gossipmesh/ballot"
)

const (
	seedPort  = 9900
	nodeCount = 5
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	nodes := make([]*gossipmesh.Node, nodeCount)
	for i := 0; i < nodeCount; i++ {
		n := gossipmesh.New(gossipmesh.Config{
			Address: "127.0.0.1",
			Port:    seedPort + i,
			Logger:  logger.Named(fmt.Sprintf("node-%d", i)),
		})
		if err := n.Listen(""); err != nil {
			panic(err)
		}
		nodes[i] = n
	}

	// Every node joins through the first: membership then spreads by
	// gossip, not by everyone dialing everyone.
	for i := 1; i < nodeCount; i++ {
		nodes[i].Join(seedPort, "127.0.0.1")
	}

	defer func() {
		for _, n := range nodes {
			n.Close()
		}
	}()

	time.Sleep(1 * time.Second)
	nodes[0].Set("cluster.name", []byte("demo"))

	opts := ballot.Options{Topic: "leader", Quorum: ballot.Quorum{Fraction: 0.6}}
	for _, n := range nodes {
		n.Election(opts)
	}
	candidate := nodes[0].Self().ID.String()
	for _, n := range nodes {
		n.Vote("leader", candidate)
	}

	monitor := time.NewTicker(2 * time.Second)
	defer monitor.Stop()
	for i := 0; i < 5; i++ {
		<-monitor.C
		last := nodes[len(nodes)-1]
		fmt.Printf("node %s sees %d peers\n", last.Self().ID, len(last.Peers()))
		if v, ok := last.Get("cluster.name"); ok {
			fmt.Printf("  cluster.name = %s\n", v)
		}
		if election, ok := last.GetElection("leader"); ok && election.Closed {
			winner, votes := ballot.Winner(election.Results)
			fmt.Printf("  leader election closed: %s (%d votes)\n", winner, votes)
		}
	}
}
