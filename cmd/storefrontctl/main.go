// storefrontctlのエントリポイント。
// 認証ゲートウェイを介してストアフロントのバックエンドにログインし、
// アクセストークンの期限切れを意識せずにAPIを呼び出す。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
