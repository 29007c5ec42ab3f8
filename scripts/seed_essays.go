// 手动导入示例作文脚本
//
// 用于首次部署或联调时向数据库写入一批待批改的作文，
// 覆盖三种来源表和手写/电子两种形式。
//
// 用法: go run scripts/seed_essays.go

package main

import (
	"log"
	"os"

	"essay_edu_backend/internal/config"
	"essay_edu_backend/internal/model"
	"essay_edu_backend/pkg/database"
	"essay_edu_backend/pkg/logger"

	"gopkg.in/yaml.v3"
)

func main() {
	data, err := os.ReadFile("configs/config.yaml")
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	logger.InitLogger(&cfg)

	db, err := database.InitDB(&cfg.Database, true)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	essays := []model.Essay{
		{StudentID: 1001, OriginTable: model.OriginRegular, Title: "我的家乡", Body: "我的家乡在南方的一座小城……", RenderStatus: model.RenderPending},
		{StudentID: 1001, OriginTable: model.OriginSimulated, Title: "一次难忘的考试", Body: "考场里安静得只剩笔尖的沙沙声……", RenderStatus: model.RenderPending},
		{StudentID: 1002, OriginTable: model.OriginExercise, Title: "读《背影》有感", Body: "朱自清先生笔下的背影……", RenderStatus: model.RenderPending},
		{StudentID: 1003, OriginTable: model.OriginRegular, Title: "手写稿·春游记", Handwritten: true, ImageRef: "seed/handwritten_demo.png", ImageURL: "/uploads/seed/handwritten_demo.png", RenderStatus: model.RenderReady},
	}

	log.Println("导入示例作文...")
	for i := range essays {
		if err := db.Create(&essays[i]).Error; err != nil {
			log.Fatalf("导入失败: %v", err)
		}
	}
	log.Printf("完成！共导入 %d 篇作文", len(essays))
}
