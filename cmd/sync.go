package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"yubal/app/utils/sseclient"

	"github.com/spf13/cobra"
	"resty.dev/v3"
)

var (
	syncServer  string
	syncFormat  string
	syncQuality string
)

var syncCmd = &cobra.Command{
	Use:   "sync <url>",
	Short: "同步一张专辑并实时显示进度",
	Long:  "向运行中的服务器提交同步任务，通过 SSE 实时跟踪进度直到任务结束",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSync(args[0]); err != nil {
			fmt.Fprintln(os.Stderr, "同步失败:", err)
			os.Exit(1)
		}
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncServer, "server", "http://localhost:8080", "服务器地址")
	syncCmd.Flags().StringVar(&syncFormat, "format", "", "音频格式，空则使用服务器默认值")
	syncCmd.Flags().StringVar(&syncQuality, "quality", "", "音质参数，空则使用服务器默认值")
	rootCmd.AddCommand(syncCmd)
}

type syncProgress struct {
	Step     string   `json:"step"`
	Message  string   `json:"message"`
	Progress *float64 `json:"progress"`
}

type syncComplete struct {
	Success     bool   `json:"success"`
	Destination string `json:"destination"`
	TrackCount  int    `json:"track_count"`
	Error       string `json:"error"`
}

func runSync(url string) error {
	client := resty.New()
	client.SetDoNotParseResponse(true)
	defer client.Close()

	resp, err := client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"url":           url,
			"audio_format":  syncFormat,
			"audio_quality": syncQuality,
		}).
		Post(syncServer + "/api/sync")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return decodeAPIError(resp.Body, resp.StatusCode())
	}

	scanner := sseclient.NewScanner(resp.Body)
	for {
		event, err := scanner.Next()
		if err == io.EOF {
			return fmt.Errorf("服务器提前关闭了连接")
		}
		if err != nil {
			return err
		}

		switch event.Name {
		case "progress":
			var p syncProgress
			if err := event.Decode(&p); err != nil {
				// 坏数据跳过，不中断整个流
				continue
			}
			if p.Progress != nil {
				fmt.Printf("[%s] %5.1f%% %s\n", p.Step, *p.Progress, p.Message)
			} else {
				fmt.Printf("[%s] %s\n", p.Step, p.Message)
			}

		case "complete":
			var done syncComplete
			if err := event.Decode(&done); err != nil {
				return fmt.Errorf("无法解析结果: %w", err)
			}
			if !done.Success {
				return fmt.Errorf("%s", done.Error)
			}
			fmt.Printf("完成: %d 首曲目 -> %s\n", done.TrackCount, done.Destination)
			return nil
		}
	}
}

// decodeAPIError 把服务器的 JSON 错误响应转成 error
func decodeAPIError(body io.Reader, status int) error {
	var payload struct {
		Error       string `json:"error"`
		ActiveJobID string `json:"active_job_id"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil || payload.Error == "" {
		return fmt.Errorf("服务器返回 HTTP %d", status)
	}
	if payload.ActiveJobID != "" {
		return fmt.Errorf("%s (执行中的任务: %s)", payload.Error, payload.ActiveJobID)
	}
	return fmt.Errorf("%s", payload.Error)
}
