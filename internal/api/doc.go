// Package api 暴露 BloodBank 守护进程的 HTTP 接口：链下记录的 REST CRUD、
// 钱包会话的查询与连接（含 websocket 推送），以及需要已连接会话的合约操作。
//
// 记录接口保持与前端约定的错误形态：任何失败都返回 500 和固定的
// {"error": "..."} 文案，具体原因只写入服务端日志。
package api
