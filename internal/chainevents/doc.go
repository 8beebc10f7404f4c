// Package chainevents 负责把 BloodDonation 合约事件从链上搬运到进程内的消费者。
//
// Watcher 跟随钱包会话：会话处于 Connected 时订阅合约日志，节点不支持订阅时
// 回退为按区块区间轮询；解码后的事件被包装成 Envelope 投递到队列
// （memory、redis 或 rabbitmq）。Processor 以多个工作协程消费队列，
// 失效库存汇总缓存、累计事件计数并写审计日志。链下记录不会与链上事件对账。
package chainevents
