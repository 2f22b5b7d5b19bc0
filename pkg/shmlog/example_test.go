package shmlog_test

import (
	"context"
	"fmt"
	"os"

	"github.com/srediag/shmlog/pkg/config"
	"github.com/srediag/shmlog/pkg/shmlog"
)

func ExamplePage() {
	page, err := shmlog.NewPage(make([]byte, config.PageSize))
	if err != nil {
		fmt.Println(err)
		return
	}
	_ = page.Initialize(2)

	_ = page.Produce(1, []byte("hello"))
	_ = page.Produce(2, []byte("world"))
	_ = page.Retire(1)
	_ = page.Retire(2)

	n, err := page.Drain(context.Background(), config.Default().Drain, func(m shmlog.Message) {
		fmt.Printf("%d: %s\n", m.Producer, m.Payload)
	})
	fmt.Println(n, err)
	_ = page.Dump(os.Stdout)
	// Output:
	// 1: hello
	// 2: world
	// 2 <nil>
	// log page size=4096 live=0 slots=2 free=4068
	//   [0] off=4 consumed producer=32767 len=5
	//   [1] off=16 consumed producer=32767 len=5
}
