// 通知APIのアクセストークンを発行するコマンド。
// イベントを投入する内部サービスや、開発時の動作確認用のトークンを作る。
//
//	tokengen --sub order-service --role service --ttl 720h
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/nao1215/marketnotify/internal/config"
	"github.com/nao1215/marketnotify/pkg/middleware"
)

func main() {
	var (
		sub   = flag.StringP("sub", "s", "", "トークンのユーザーID（必須）")
		email = flag.StringP("email", "e", "", "メールアドレス")
		role  = flag.StringP("role", "r", middleware.RoleUser, "ロール（user, admin, service）")
		ttl   = flag.DurationP("ttl", "t", 24*time.Hour, "有効期間")
	)
	flag.Parse()

	if *sub == "" {
		flag.Usage()
		os.Exit(2)
	}
	switch *role {
	case middleware.RoleUser, middleware.RoleAdmin, middleware.RoleService:
	default:
		log.Fatalf("未知のロールです: %s", *role)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}
	token, err := middleware.GenerateJWT(cfg.JWT.Secret, *sub, *email, *role, *ttl)
	if err != nil {
		log.Fatalf("トークンの発行に失敗: %v", err)
	}
	fmt.Println(token)
}
